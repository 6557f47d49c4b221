package camera

import (
	"aoi-edge/internal/types"
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedPos types.Position

func (p fixedPos) Position() types.Position { return types.Position(p) }

func TestSynthetic_CaptureFollowsPosition(t *testing.T) {
	cam := NewSynthetic(Config{Width: 320, Height: 240, PixelsPerMM: 1}, fixedPos{X: 20, Y: 10})

	img, err := cam.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, 320, img.Bounds().Dx())
	require.Equal(t, 240, img.Bounds().Dy())

	// 标记块中心: (50+20, 240-80-10)
	r, g, b, _ := img.At(70, 150).RGBA()
	require.Equal(t, color.RGBA{R: 255, G: 255, A: 255}, color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255})
}

func TestSynthetic_FlushHonoursContext(t *testing.T) {
	cam := NewSynthetic(Config{FrameDelayMs: 50}, fixedPos{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := cam.Flush(ctx, 3)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpen_UnknownSource(t *testing.T) {
	_, err := Open(Config{Source: "lidar"}, fixedPos{})
	require.Error(t, err)

	src, err := Open(Config{}, fixedPos{})
	require.NoError(t, err)
	require.NoError(t, src.Close())
}
