package monitor

import (
	"image"

	"github.com/genricoloni/dropbeat/internal/domain"
	"github.com/kbinani/screenshot"
	"go.uber.org/zap"
)

// DisplayProbe reports the bounds of the primary display and whether one exists
type DisplayProbe func() (image.Rectangle, bool)

// PrimaryDisplay probes the first active display
func PrimaryDisplay() (image.Rectangle, bool) {
	if screenshot.NumActiveDisplays() <= 0 {
		return image.Rectangle{}, false
	}
	return screenshot.GetDisplayBounds(0), true
}

// NewScreenResolution detects the primary screen resolution at startup
func NewScreenResolution(logger *zap.Logger) *domain.ScreenResolution {
	return detectResolution(logger, PrimaryDisplay)
}

func detectResolution(logger *zap.Logger, probe DisplayProbe) *domain.ScreenResolution {
	bounds, ok := probe()
	if !ok || bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		logger.Warn("No active displays detected, falling back to 1920x1080")
		return &domain.ScreenResolution{Width: 1920, Height: 1080}
	}

	res := &domain.ScreenResolution{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	logger.Info("Screen resolution detected",
		zap.Int("width", res.Width),
		zap.Int("height", res.Height))

	return res
}

// CardSizeFor derives the player card size from the shorter screen side:
// half of it tall and a third of it wide.
func CardSizeFor(res *domain.ScreenResolution) domain.CardSize {
	side := min(res.Width, res.Height)
	height := side / 2
	return domain.CardSize{
		Width:  int(float64(height) / 1.5),
		Height: height,
	}
}
