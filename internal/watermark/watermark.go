package watermark

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"strings"

	"github.com/h2non/bimg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"pixelbay/internal/domain"
)

const (
	// Порог ширины для быстрого режима: более широкие изображения
	// уменьшаются перед композитингом
	fastModeMaxWidth = 1600
	// Качество кодирования в быстром режиме (скорость важнее размера)
	fastModeQuality = 75
	// Смещение тени относительно основного текста, px
	shadowOffset = 2
)

// Apply накладывает текстовый водяной знак на изображение. Любая ошибка
// декодирования, рендеринга или кодирования приводит к возврату исходных
// байтов без изменений: водяной знак никогда не блокирует загрузку.
func Apply(data []byte, spec domain.WatermarkSpec) []byte {
	if !spec.Enabled || strings.TrimSpace(spec.Text) == "" {
		return data
	}

	out, err := apply(data, spec)
	if err != nil {
		log.Printf("[Watermark] falling back to original bytes: %v", err)
		return data
	}
	return out
}

func apply(data []byte, spec domain.WatermarkSpec) ([]byte, error) {
	img := bimg.NewImage(data)

	size, err := img.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("image has no pixels")
	}

	// Быстрый режим: слишком широкие изображения уменьшаем заранее
	if spec.FastMode && size.Width > fastModeMaxWidth {
		height := size.Height * fastModeMaxWidth / size.Width
		resized, err := img.Resize(fastModeMaxWidth, height)
		if err != nil {
			return nil, fmt.Errorf("failed to downscale image: %w", err)
		}
		data = resized
		img = bimg.NewImage(data)
		size = bimg.ImageSize{Width: fastModeMaxWidth, Height: height}
	}

	overlay, overlayW, overlayH, err := renderOverlay(spec)
	if err != nil {
		return nil, err
	}

	left, top := anchorOffset(spec.Position, size.Width, size.Height, overlayW, overlayH, spec.Padding)

	opts := bimg.Options{
		WatermarkImage: bimg.WatermarkImage{
			Left:    left,
			Top:     top,
			Buf:     overlay,
			Opacity: clampOpacity(spec.Opacity),
		},
	}
	if spec.FastMode {
		opts.Quality = fastModeQuality
		opts.Compression = 1
	}

	out, err := img.Process(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to composite watermark: %w", err)
	}
	return out, nil
}

// renderOverlay растрирует текст знака с тенью на прозрачном фоне
// и возвращает PNG-буфер вместе с его размерами в пикселях
func renderOverlay(spec domain.WatermarkSpec) ([]byte, int, int, error) {
	fontSize := spec.FontSize
	if fontSize <= 0 {
		fontSize = 24
	}

	parsed, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to parse font: %w", err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    float64(fontSize),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to create font face: %w", err)
	}
	defer face.Close()

	textColor, err := parseHexColor(spec.Color)
	if err != nil {
		return nil, 0, 0, err
	}

	measure := &font.Drawer{Face: face}
	textWidth := measure.MeasureString(spec.Text).Ceil()
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	textHeight := metrics.Height.Ceil()
	if textWidth <= 0 || textHeight <= 0 {
		return nil, 0, 0, fmt.Errorf("text measures to empty box")
	}

	width := textWidth + shadowOffset
	height := textHeight + shadowOffset
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.Transparent, image.Point{}, draw.Src)

	// Тень со сдвигом для читаемости на светлом фоне
	shadow := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.NRGBA{R: 0, G: 0, B: 0, A: 180}),
		Face: face,
		Dot:  fixed.P(shadowOffset, ascent+shadowOffset),
	}
	shadow.DrawString(spec.Text)

	main := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	main.DrawString(spec.Text)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode overlay: %w", err)
	}
	return buf.Bytes(), width, height, nil
}

// anchorOffset вычисляет положение знака для одного из пяти якорей
func anchorOffset(position string, imgW, imgH, wmW, wmH, padding int) (left, top int) {
	if padding < 0 {
		padding = 0
	}

	switch position {
	case domain.PositionTopLeft:
		left, top = padding, padding
	case domain.PositionTopRight:
		left, top = imgW-wmW-padding, padding
	case domain.PositionBottomLeft:
		left, top = padding, imgH-wmH-padding
	case domain.PositionCenter:
		left, top = (imgW-wmW)/2, (imgH-wmH)/2
	default: // bottom-right
		left, top = imgW-wmW-padding, imgH-wmH-padding
	}

	if left < 0 {
		left = 0
	}
	if top < 0 {
		top = 0
	}
	return left, top
}

func clampOpacity(opacity float64) float32 {
	if opacity <= 0 {
		return 0
	}
	if opacity > 1 {
		return 1
	}
	return float32(opacity)
}

// parseHexColor разбирает цвет вида #rgb или #rrggbb
func parseHexColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")

	c := color.NRGBA{A: 255}
	var err error
	switch len(s) {
	case 3:
		_, err = fmt.Sscanf(s, "%1x%1x%1x", &c.R, &c.G, &c.B)
		c.R *= 17
		c.G *= 17
		c.B *= 17
	case 6:
		_, err = fmt.Sscanf(s, "%02x%02x%02x", &c.R, &c.G, &c.B)
	default:
		return c, fmt.Errorf("invalid color %q", s)
	}
	if err != nil {
		return c, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return c, nil
}
