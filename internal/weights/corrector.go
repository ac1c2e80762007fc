package weights

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/stau-selection/internal/calib"
)

// #region corrector
// Corrector evaluates scale factors through a calibration provider. A missing
// correction degrades to 1.0 and is logged once per name.
type Corrector struct {
	provider calib.Provider
	logger   *zap.Logger
	warned   sync.Map
}

// NewCorrector wraps a provider. A nil provider makes every lookup neutral.
func NewCorrector(p calib.Provider, logger *zap.Logger) *Corrector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Corrector{provider: p, logger: logger}
}

// Labels returns the input labels of a correction, or nil when it is missing.
func (c *Corrector) Labels(ctx context.Context, name string) ([]string, error) {
	if c.provider == nil {
		c.warnMissing(name, "", calib.ErrMissingCalibration)
		return nil, nil
	}
	labels, err := c.provider.Describe(ctx, name)
	if errors.Is(err, calib.ErrMissingCalibration) {
		c.warnMissing(name, "", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}
	return labels, nil
}

// Eval returns one factor per input row. A missing correction or variation
// yields 1.0 for every row.
func (c *Corrector) Eval(ctx context.Context, name string, vars map[string][]float64, rows int, variation string) ([]float64, error) {
	if rows == 0 {
		return []float64{}, nil
	}
	if c.provider == nil {
		c.warnMissing(name, "", calib.ErrMissingCalibration)
		return Neutral(rows).Factor, nil
	}
	out, err := c.provider.Lookup(ctx, name, vars, variation)
	if errors.Is(err, calib.ErrMissingCalibration) {
		c.warnMissing(name, variation, err)
		return Neutral(rows).Factor, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", name, err)
	}
	if len(out) != rows {
		return nil, fmt.Errorf("%w: %s returned %d factors for %d rows", ErrLength, name, len(out), rows)
	}
	return out, nil
}

// PerObject evaluates a per-object correction and multiplies it within each
// event. variations maps a systematic name to the provider variation pair
// used for it, e.g. "muonsf0" -> {"up", "down"}.
func (c *Corrector) PerObject(ctx context.Context, name string, offsets []int, vars map[string][]float64, variations map[string][2]string) (Contribution, error) {
	rows := offsets[len(offsets)-1]
	nom, err := c.Eval(ctx, name, vars, rows, "")
	if err != nil {
		return Contribution{}, err
	}
	nominal := ProductPerEvent(offsets, nom)
	out := Contribution{Factor: nominal}
	if len(variations) == 0 {
		return out, nil
	}
	out.Systematics = make(map[string]Variation, len(variations))
	for sys, pair := range variations {
		up, err := c.Eval(ctx, name, vars, rows, pair[0])
		if err != nil {
			return Contribution{}, err
		}
		down, err := c.Eval(ctx, name, vars, rows, pair[1])
		if err != nil {
			return Contribution{}, err
		}
		out.Systematics[sys] = Variation{
			Up:   Ratio(ProductPerEvent(offsets, up), nominal),
			Down: Ratio(ProductPerEvent(offsets, down), nominal),
		}
	}
	return out, nil
}

// PerEvent evaluates an event-level correction.
func (c *Corrector) PerEvent(ctx context.Context, name string, vars map[string][]float64, n int, variations map[string][2]string) (Contribution, error) {
	offsets := make([]int, n+1)
	for i := range offsets {
		offsets[i] = i
	}
	return c.PerObject(ctx, name, offsets, vars, variations)
}

// warnMissing logs the first miss of a correction, whichever variation it was.
func (c *Corrector) warnMissing(name, variation string, err error) {
	if _, loaded := c.warned.LoadOrStore(name, struct{}{}); loaded {
		return
	}
	c.logger.Warn("calibration missing, applying neutral factor",
		zap.String("correction", name),
		zap.String("variation", variation),
		zap.Error(err),
	)
}

// #endregion corrector
