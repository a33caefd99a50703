package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/keagan/eclipper/internal/backend"
	"github.com/keagan/eclipper/internal/clips"
	"github.com/keagan/eclipper/internal/config"
	"github.com/keagan/eclipper/internal/detect"
	"github.com/keagan/eclipper/internal/engine"
	"github.com/keagan/eclipper/internal/imaging"
	"github.com/keagan/eclipper/internal/pipeline"
	"github.com/keagan/eclipper/internal/server"
	"github.com/keagan/eclipper/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// applyScanFlags overrides configured scan settings with flags the user set
func applyScanFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("threads") {
		cfg.Scan.Threads, err = flags.GetInt("threads")
	}
	if err == nil && flags.Changed("include-assists") {
		cfg.Scan.IncludeAssists, err = flags.GetBool("include-assists")
	}
	if err == nil && flags.Changed("include-spectating") {
		cfg.Scan.IncludeSpectating, err = flags.GetBool("include-spectating")
	}
	if err == nil && flags.Changed("elim-duration") {
		cfg.Scan.ElimClipDuration, err = flags.GetFloat64("elim-duration")
	}
	if err == nil && flags.Changed("hw-accel") {
		cfg.Scan.HardwareAccel, err = flags.GetBool("hw-accel")
	}
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("threads", "j", 0, "number of scan workers (default: number of CPUs)")
	cmd.Flags().Bool("include-assists", false, "clip assists as well as eliminations")
	cmd.Flags().Bool("include-spectating", false, "keep matches while spectating other players")
	cmd.Flags().Float64("elim-duration", 0, "seconds kept before an elimination")
	cmd.Flags().Bool("hw-accel", false, "decode with a hardware accelerator when available")
}

// progressLogger logs scan progress in 5% steps
func progressLogger() func(pipeline.Progress) {
	next := 0.0
	return func(p pipeline.Progress) {
		if p.Percent < next {
			return
		}
		cliLogger().Info().
			Str("progress", fmt.Sprintf("%.0f%%", p.Percent)).
			Str("speed", fmt.Sprintf("%.1fx", p.Speed)).
			Msg("scanning")
		next = math.Floor(p.Percent/5)*5 + 5
	}
}

func newEngine(cmd *cobra.Command) (*engine.Engine, *config.Config, error) {
	cfg := config.FromContext(cmd.Context())
	if err := applyScanFlags(cmd, cfg); err != nil {
		return nil, nil, err
	}
	e, err := backend.NewEngine(cfg, log.Logger)
	if err != nil {
		return nil, nil, err
	}
	return e, cfg, nil
}

var scanCmd = &cobra.Command{
	Use:   "scan [input video]",
	Short: "Find highlight clips in a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := newEngine(cmd)
		if err != nil {
			return err
		}

		res, err := e.Scan(cmd.Context(), args[0], e.ScanOptions(), progressLogger())
		if err != nil {
			return err
		}

		cliLogger().Info().
			Int("clips", len(res.Clips)).
			Str("total", util.FormatSeconds(clips.TotalDuration(res.Clips))).
			Bool("cached", res.Cached).
			Msg("scan complete")

		if output, _ := cmd.Flags().GetString("output"); output != "" {
			if err := e.Extract(cmd.Context(), res.Clips, res.Keyframes, output); err != nil {
				return err
			}
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		for _, c := range res.Clips {
			fmt.Fprintf(cmd.OutOrStdout(), "%s-%s\n", util.FormatSeconds(c.Start), util.FormatSeconds(c.End))
		}
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract [input video] [output video]",
	Short: "Write clips of a video into a new file",
	Long:  "Writes the given clips, or the clips found by a scan when none are given, back to back into the output file without re-encoding.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := newEngine(cmd)
		if err != nil {
			return err
		}

		ranges, _ := cmd.Flags().GetStringSlice("clip")
		var cs []clips.Clip
		for _, r := range ranges {
			start, end, err := util.ParseRange(r)
			if err != nil {
				return err
			}
			cs = append(cs, clips.Clip{Start: start, End: end})
		}

		if len(cs) == 0 {
			res, err := e.Scan(cmd.Context(), args[0], e.ScanOptions(), progressLogger())
			if err != nil {
				return err
			}
			return e.Extract(cmd.Context(), res.Clips, res.Keyframes, args[1])
		}
		return e.ExtractFile(cmd.Context(), args[0], args[1], cs, nil)
	},
}

var previewFilterCmd = &cobra.Command{
	Use:   "preview-filter [image]",
	Short: "Apply detection preprocessing to a screenshot and recognize its text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := newEngine(cmd)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		var filter engine.PreviewFilter
		if flags.Changed("brightness") || flags.Changed("contrast") {
			brightness, _ := flags.GetFloat64("brightness")
			contrast, _ := flags.GetFloat64("contrast")
			filter.BrightnessContrast = &engine.BrightnessContrast{Brightness: brightness, Contrast: contrast}
		} else {
			minStr, _ := flags.GetString("min-rgb")
			maxStr, _ := flags.GetString("max-rgb")
			minRGB, err := parseRGB(minStr)
			if err != nil {
				return err
			}
			maxRGB, err := parseRGB(maxStr)
			if err != nil {
				return err
			}
			filter.Binarize = &detect.Thresholds{MinRGB: minRGB, MaxRGB: maxRGB}
		}

		height, _ := flags.GetInt("height")
		filterName, _ := flags.GetString("resize-filter")
		resize, err := imaging.ParseFilter(filterName)
		if err != nil {
			return err
		}

		res, err := e.PreviewFilter(args[0], filter, height, resize)
		if err != nil {
			return err
		}

		if out, _ := flags.GetString("output"); out != "" {
			data := strings.TrimPrefix(res.Image, "data:image/bmp;base64,")
			if err := writeBase64(out, data); err != nil {
				return err
			}
			cliLogger().Info().Str("path", out).Msg("processed image written")
		}

		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(res.Text))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve [input video]",
	Short: "Serve clips and preview frames over HTTP",
	Long:  "Scans the input video, then serves transcoded clips and captured preview frames until interrupted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cfg, err := newEngine(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(e, cfg.Server, log.Logger)
		addr, err := srv.Start()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), addr)

		res, err := e.Scan(ctx, args[0], e.ScanOptions(), progressLogger())
		if err != nil {
			return err
		}
		for _, c := range res.Clips {
			fmt.Fprintf(cmd.OutOrStdout(), "%s/clip?start=%g&end=%g\n", addr, c.Start, c.End)
		}

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	addScanFlags(scanCmd)
	scanCmd.Flags().StringP("output", "o", "", "write the clips into this file after scanning")
	scanCmd.Flags().Bool("json", false, "print the result as JSON")

	addScanFlags(extractCmd)
	extractCmd.Flags().StringSlice("clip", nil, "clip range start-end, repeatable (e.g. 1:02-1:10)")

	previewFilterCmd.Flags().String("min-rgb", "200,200,200", "binarization band lower bound")
	previewFilterCmd.Flags().String("max-rgb", "255,255,255", "binarization band upper bound")
	previewFilterCmd.Flags().Float64("brightness", 0, "use brightness/contrast instead of binarization")
	previewFilterCmd.Flags().Float64("contrast", 1, "contrast factor for brightness/contrast")
	previewFilterCmd.Flags().Int("height", 720, "scale to this height")
	previewFilterCmd.Flags().String("resize-filter", "lanczos3", "nearest, box, bilinear, hamming, catmull-rom, mitchell or lanczos3")
	previewFilterCmd.Flags().StringP("output", "o", "", "write the processed image as a bitmap")

	addScanFlags(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (default from config)")
}
