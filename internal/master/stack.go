package master

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/franz/astrofiler/internal/fits"
	"github.com/franz/astrofiler/internal/stats"
	"github.com/franz/astrofiler/internal/util"
)

// Sigma-clipped stacking thresholds used for every master
const (
	sigmaLow  = 3.0
	sigmaHigh = 3.0

	// Bound on the built-in rejection loop
	maxClipIterations = 5
)

// stackResult is a combined frame plus how it was produced
type stackResult struct {
	Data   []float64
	Bitpix int
	Width  int
	Height int
	Method string // "sigma-clip" or "mean"
}

// candidateOutputs are the file names stacking tools are known to
// produce in their working directory.
var candidateOutputs = []string{
	"result.fits",
	"stacked.fits",
	"master.fits",
	"r_seq_stacked.fits",
}

// stack combines the input frames. The external tool is attempted
// first when configured; any failure there (missing binary, execution
// error, unrecognizable output) silently degrades to a built-in
// combine, which is always available. The built-in combine is the
// per-pixel sigma-clipped mean when SigmaClip is configured and the
// simple unweighted mean otherwise.
func (b *Builder) stack(paths []string, normalize bool) (*stackResult, error) {
	if b.cfg.StackTool != "" {
		result, err := b.stackExternal(paths, normalize)
		if err == nil {
			return result, nil
		}
		util.WarnLog("External stacking failed (%v), falling back to built-in combine", err)
	}
	if b.cfg.SigmaClip {
		return sigmaClipStack(paths, normalize)
	}
	return meanStack(paths)
}

// stackExternal copies the frames into a scratch workspace and runs
// the configured stacking tool with sigma-clip rejection. Flats get
// multiplicative normalization so illumination averaging is unbiased
// by flux differences between frames; bias and dark use none.
func (b *Builder) stackExternal(paths []string, normalize bool) (*stackResult, error) {
	scratch, err := os.MkdirTemp(b.cfg.WorkDir, "stack-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	var inputs []string
	for i, p := range paths {
		name := fmt.Sprintf("frame_%04d.fits", i+1)
		if _, err := util.CopyFile(p, filepath.Join(scratch, name)); err != nil {
			return nil, err
		}
		inputs = append(inputs, name)
	}

	norm := "none"
	if normalize {
		norm = "mul"
	}
	args := []string{
		fmt.Sprintf("--sigma-low=%g", sigmaLow),
		fmt.Sprintf("--sigma-high=%g", sigmaHigh),
		"--norm=" + norm,
	}
	args = append(args, inputs...)

	cmd := exec.Command(b.cfg.StackTool, args...)
	cmd.Dir = scratch
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s failed: %w (%s)", b.cfg.StackTool, err, firstLine(out))
	}

	for _, name := range candidateOutputs {
		outPath := filepath.Join(scratch, name)
		if !util.FileExists(outPath) {
			continue
		}
		img, err := fits.Open(outPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read stack output %s: %w", name, err)
		}
		return &stackResult{
			Data:   img.Data,
			Bitpix: img.Bitpix,
			Width:  img.Width,
			Height: img.Height,
			Method: "sigma-clip",
		}, nil
	}

	return nil, fmt.Errorf("no recognizable output from %s", b.cfg.StackTool)
}

// sigmaClipStack combines frames with per-pixel sigma-clipped means,
// the built-in alternative to the external tool. With normalize set
// (flats) each frame is scaled to the first frame's median before
// combining, so illumination differences between frames do not skew
// the rejection.
func sigmaClipStack(paths []string, normalize bool) (*stackResult, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames to stack")
	}

	frames := make([][]float64, 0, len(paths))
	var bitpix, width, height int
	var refMedian float64

	for i, p := range paths {
		img, err := fits.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %s: %w", p, err)
		}
		if i == 0 {
			bitpix = img.Bitpix
			width = img.Width
			height = img.Height
			refMedian = stats.Median(img.Data)
		} else if img.Width != width || img.Height != height {
			return nil, fmt.Errorf("frame %s is %dx%d, expected %dx%d",
				p, img.Width, img.Height, width, height)
		}
		if normalize && i > 0 {
			med := stats.Median(img.Data)
			if med == 0 {
				return nil, fmt.Errorf("frame %s has zero median", p)
			}
			scale := refMedian / med
			for j := range img.Data {
				img.Data[j] *= scale
			}
		}
		frames = append(frames, img.Data)
	}

	data := make([]float64, width*height)
	vs := make([]float64, len(frames))
	for i := range data {
		for k, f := range frames {
			vs[k] = f[i]
		}
		data[i] = stats.SigmaClippedMean(vs, sigmaLow, sigmaHigh, maxClipIterations)
	}

	return &stackResult{
		Data:   data,
		Bitpix: bitpix,
		Width:  width,
		Height: height,
		Method: "sigma-clip",
	}, nil
}

// meanStack computes the unweighted per-pixel mean across all frames:
// float32 accumulation divided by frame count, rounded back into the
// first frame's integer representation.
func meanStack(paths []string) (*stackResult, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames to stack")
	}

	var acc []float32
	var bitpix, width, height int

	for i, p := range paths {
		img, err := fits.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %s: %w", p, err)
		}
		if i == 0 {
			bitpix = img.Bitpix
			width = img.Width
			height = img.Height
			acc = make([]float32, len(img.Data))
		} else if img.Width != width || img.Height != height {
			return nil, fmt.Errorf("frame %s is %dx%d, expected %dx%d",
				p, img.Width, img.Height, width, height)
		}
		for j, v := range img.Data {
			acc[j] += float32(v)
		}
	}

	n := float32(len(paths))
	data := make([]float64, len(acc))
	for i, v := range acc {
		data[i] = float64(v / n)
	}

	return &stackResult{
		Data:   data,
		Bitpix: bitpix,
		Width:  width,
		Height: height,
		Method: "mean",
	}, nil
}

func firstLine(out []byte) string {
	for i, c := range out {
		if c == '\n' {
			return string(out[:i])
		}
	}
	return string(out)
}
