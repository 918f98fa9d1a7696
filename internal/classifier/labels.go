package classifier

// Label is the land-cover status predicted for a coordinate.
type Label int

// Class indices produced by the network output layer.
const (
	Unknown Label = iota - 1
	Preserved
	AtRisk
	Deforested
)

var labelNames = map[Label]string{
	Preserved:  "Preserved",
	AtRisk:     "AtRisk",
	Deforested: "Deforested",
	Unknown:    "Unknown",
}

// String returns the status string used in API responses.
func (l Label) String() string {
	if name, ok := labelNames[l]; ok {
		return name
	}
	return labelNames[Unknown]
}

// LabelForIndex maps an output index to its label. Indices outside the fixed
// enumeration map to Unknown.
func LabelForIndex(i int) Label {
	l := Label(i)
	if l < Preserved || l > Deforested {
		return Unknown
	}
	return l
}

// Labels returns the known labels in index order.
func Labels() []Label {
	return []Label{Preserved, AtRisk, Deforested}
}

// DatasetDirs returns the directory names used for each label by the dataset loader.
func DatasetDirs() []string {
	return []string{"preserved", "at_risk", "deforested"}
}
