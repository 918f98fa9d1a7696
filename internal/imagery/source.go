package imagery

import (
	"context"
	"fmt"

	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/logger"
)

// ErrImageUnavailable is returned when no image can be produced for a coordinate.
var ErrImageUnavailable = errors.NewStd("no image available for coordinate")

// Source resolves a coordinate to a raw image with values in [0,1).
type Source interface {
	// Name identifies the source in logs, metrics and cache keys.
	Name() string
	// Fetch returns a Height x Width x Channels image for coord. Failures
	// wrap ErrImageUnavailable.
	Fetch(ctx context.Context, coord Coordinate, bufferSize int) (*Image, error)
}

// unavailable wraps cause so that callers can match ErrImageUnavailable.
func unavailable(source string, coord Coordinate, cause error) error {
	var err error
	if cause == nil {
		err = ErrImageUnavailable
	} else {
		err = fmt.Errorf("%w: %w", ErrImageUnavailable, cause)
	}
	return errors.New(err).
		Component("imagery").
		Category(errors.CategoryImageFetch).
		CoordinateContext(coord.Latitude, coord.Longitude).
		Context("source", source).
		Build()
}

// SafeFetch calls src.Fetch and turns panics and unexpected errors into
// ErrImageUnavailable. Context cancellation is returned unchanged.
func SafeFetch(ctx context.Context, src Source, coord Coordinate, bufferSize int) (img *Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			GetLogger().Error("image source panicked",
				logger.String("source", src.Name()),
				logger.Any("panic", r))
			img = nil
			err = unavailable(src.Name(), coord, fmt.Errorf("panic: %v", r))
		}
	}()

	img, err = src.Fetch(ctx, coord, bufferSize)
	switch {
	case err == nil:
		if img == nil {
			return nil, unavailable(src.Name(), coord, nil)
		}
		return img, nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return nil, err
	case errors.Is(err, ErrImageUnavailable):
		return nil, err
	default:
		return nil, unavailable(src.Name(), coord, err)
	}
}
