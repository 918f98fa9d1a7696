package imagery

import (
	"fmt"
	"image"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/logger"
)

// Dataset is a labelled set of images. Labels are class indices.
type Dataset struct {
	Images []*Image
	Labels []int
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Images)
}

// Slice returns samples [start, end) sharing the underlying images.
func (d *Dataset) Slice(start, end int) *Dataset {
	return &Dataset{Images: d.Images[start:end], Labels: d.Labels[start:end]}
}

var imageExtensions = []string{".png", ".jpg", ".jpeg"}

// LoadDataset reads dir/<class>/*.{png,jpg,jpeg}, labelling each image with
// the index of its class directory in classes. Missing class directories are
// skipped. Images are resized to Height x Width.
func LoadDataset(dir string, classes []string) (*Dataset, error) {
	ds := &Dataset{}
	for label, class := range classes {
		classDir := filepath.Join(dir, class)
		entries, err := os.ReadDir(classDir)
		if err != nil {
			if os.IsNotExist(err) {
				GetLogger().Warn("class directory missing", logger.String("path", classDir))
				continue
			}
			return nil, errors.New(err).
				Component("imagery").
				Category(errors.CategoryFileIO).
				Context("operation", "read_dataset_dir").
				Build()
		}

		for _, entry := range entries {
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if entry.IsDir() || !slices.Contains(imageExtensions, ext) {
				continue
			}
			img, err := loadImageFile(filepath.Join(classDir, entry.Name()))
			if err != nil {
				return nil, err
			}
			ds.Images = append(ds.Images, img)
			ds.Labels = append(ds.Labels, label)
		}
	}

	if ds.Len() == 0 {
		return nil, errors.Newf("no images found under %s", dir).
			Component("imagery").
			Category(errors.CategoryValidation).
			Build()
	}

	GetLogger().Info("dataset loaded",
		logger.String("dir", dir),
		logger.Int("samples", ds.Len()))
	return ds, nil
}

func loadImageFile(path string) (*Image, error) {
	f, err := os.Open(path) //nolint:gosec // G304: dataset path supplied by the operator
	if err != nil {
		return nil, errors.New(err).
			Component("imagery").
			Category(errors.CategoryFileIO).
			Context("operation", "open_image").
			Build()
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.New(fmt.Errorf("decode %s: %w", filepath.Base(path), err)).
			Component("imagery").
			Category(errors.CategoryFileIO).
			Context("operation", "decode_image").
			Build()
	}
	return FromImage(src), nil
}

// SyntheticDataset returns n random images with labels drawn uniformly from
// [0, numClasses). A zero seed uses the clock.
func SyntheticDataset(n, numClasses int, seed uint64) (*Dataset, error) {
	if n <= 0 || numClasses <= 0 {
		return nil, errors.Newf("invalid synthetic dataset size %d with %d classes", n, numClasses).
			Component("imagery").
			Category(errors.CategoryValidation).
			Build()
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano()) //nolint:gosec // G115: any bit pattern is a valid seed
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1)) //nolint:gosec // G404: not used for security

	ds := &Dataset{
		Images: make([]*Image, n),
		Labels: make([]int, n),
	}
	for i := range n {
		img := NewImage(Height, Width, Channels)
		for j := range img.Pix {
			img.Pix[j] = rng.Float32()
		}
		ds.Images[i] = img
		ds.Labels[i] = rng.IntN(numClasses)
	}
	return ds, nil
}

// Split cuts ds at int(fraction*n). The first part is for training and the
// second for validation. Either part may be empty.
func Split(ds *Dataset, fraction float64) (train, val *Dataset) {
	n := ds.Len()
	cut := int(fraction * float64(n))
	cut = min(max(cut, 0), n)
	return ds.Slice(0, cut), ds.Slice(cut, n)
}

// Shuffle permutes ds in place, keeping images and labels paired.
func Shuffle(ds *Dataset, rng *rand.Rand) {
	rng.Shuffle(ds.Len(), func(i, j int) {
		ds.Images[i], ds.Images[j] = ds.Images[j], ds.Images[i]
		ds.Labels[i], ds.Labels[j] = ds.Labels[j], ds.Labels[i]
	})
}
