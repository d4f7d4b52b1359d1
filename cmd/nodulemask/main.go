package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nodulemask/internal/models"
	"nodulemask/pkg/annotations"
	"nodulemask/pkg/config"
	"nodulemask/pkg/maskio"
	"nodulemask/pkg/reconstruction"
	"nodulemask/pkg/visualization"
	"nodulemask/pkg/volume"
)

func main() {
	// Parse command line arguments
	annotationsDir := flag.String("annotations", "", "Directory containing per-scan annotation bundles (JSON)")
	configPath := flag.String("config", "nodulemask.yaml", "Path to YAML configuration file")
	scanUID := flag.String("scan", "", "SeriesInstanceUID of the scan to work on")
	info := flag.Bool("info", false, "Print scan metadata and per-nodule malignancy consensus")
	annotationIdx := flag.Int("annotation", -1, "Reconstruct the mask of a single annotation by index")
	noduleIdx := flag.Int("nodule", -1, "Reconstruct the consensus mask of a nodule by cluster index")
	threshold := flag.Float64("threshold", 0, "Consensus agreement threshold in (0,1] (default: from config)")
	volumePath := flag.String("volume", "", "MetaImage (.mhd) volume to align the mask to (default: native frame)")
	outputFile := flag.String("out", "", "Write the reconstructed mask to this file")
	extractSlices := flag.Bool("extract-slices", false, "Extract and save mask slices along all axes")
	slicesDir := flag.String("slices-dir", "", "Directory to save extracted slices (default: from config)")
	mapFile := flag.String("map-file", "", "File with one series UID per line: batch-reconstruct all reliable nodules")
	mapOutDir := flag.String("map-out", "consensus_masks", "Directory for batch-reconstructed masks")
	flag.Parse()

	if *annotationsDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *threshold == 0 {
		*threshold = cfg.Consensus.Threshold
	}
	if *slicesDir == "" {
		*slicesDir = cfg.Output.SlicesDir
	}

	level := slog.LevelWarn
	if cfg.Output.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// The caching store keeps each scan's annotations in memory after the
	// first lookup, which matters for batch runs revisiting scans.
	store := annotations.NewCachingStore(annotations.NewFileStore(*annotationsDir))
	reconstructor := reconstruction.New(store,
		reconstruction.WithLogger(logger),
		reconstruction.WithClusterer(annotations.CentroidClusterer{ToleranceMM: cfg.Consensus.ClusterToleranceMM}),
	)

	// Load the target volume when the caller wants volume-aligned masks.
	var targetFrame *models.Frame
	var background []float64
	if *volumePath != "" {
		fmt.Printf("Loading target volume: %s\n", *volumePath)
		vol, err := volume.LoadMetaImage(*volumePath)
		if err != nil {
			log.Fatalf("Failed to load volume: %v", err)
		}
		targetFrame = &vol.Frame
		background = volume.NormalizeHU(vol.Data, cfg.Volume.MinHU, cfg.Volume.MaxHU)
		fmt.Printf("Volume shape (z,y,x): %v, spacing: %v mm\n", vol.Frame.Shape, vol.Frame.Spacing)
	}

	switch {
	case *mapFile != "":
		runBatch(reconstructor, *mapFile, *mapOutDir, targetFrame, *threshold, cfg.Consensus.MinAnnotations, cfg.Batch.Workers)

	case *scanUID == "":
		fmt.Fprintln(os.Stderr, "either -scan or -map-file is required")
		flag.Usage()
		os.Exit(1)

	case *info:
		printScanInfo(reconstructor.Loader(), *scanUID)

	case *annotationIdx >= 0:
		mask, err := reconstructor.ScanAnnotationMask(*scanUID, *annotationIdx, targetFrame)
		if err != nil {
			log.Fatalf("Reconstruction failed: %v", err)
		}
		emitMask(mask, background, targetFrame, *outputFile, *extractSlices || cfg.Output.SaveSlices, *slicesDir)

	case *noduleIdx >= 0:
		startTime := time.Now()
		mask, err := reconstructor.ScanConsensusMask(*scanUID, *noduleIdx, targetFrame, *threshold)
		if err != nil {
			log.Fatalf("Consensus reconstruction failed: %v", err)
		}
		fmt.Printf("Consensus mask reconstructed in %.3f seconds\n", time.Since(startTime).Seconds())
		emitMask(mask, background, targetFrame, *outputFile, *extractSlices || cfg.Output.SaveSlices, *slicesDir)

	default:
		fmt.Fprintln(os.Stderr, "nothing to do: pass -info, -annotation, -nodule or -map-file")
		flag.Usage()
		os.Exit(1)
	}
}

// printScanInfo prints scan metadata and the malignancy consensus of every
// nodule, one line per nodule.
func printScanInfo(loader *annotations.Loader, seriesUID string) {
	meta, err := loader.Metadata(seriesUID)
	if err != nil {
		log.Fatalf("Failed to load scan metadata: %v", err)
	}

	fmt.Println("================================")
	fmt.Printf("Scan:            %s\n", seriesUID)
	fmt.Printf("Patient:         %s\n", meta.PatientID)
	fmt.Printf("Pixel spacing:   %.3f mm\n", meta.PixelSpacingMM)
	fmt.Printf("Slice thickness: %.3f mm\n", meta.SliceThicknessMM)
	fmt.Printf("Slice spacing:   %.3f mm\n", meta.SliceSpacingMM)
	fmt.Printf("Annotations:     %d\n", meta.NumAnnotations)
	fmt.Printf("Nodules:         %d\n", meta.NumNodules)
	fmt.Println("================================")

	summaries, err := loader.ConsensusMalignancy(seriesUID)
	if err != nil {
		log.Fatalf("Failed to compute malignancy consensus: %v", err)
	}
	for i, s := range summaries {
		fmt.Printf("Nodule %d: malignancy %.2f ± %.2f (%d radiologists) - %s\n",
			i, s.Mean, s.StdDev, s.NumRadiologists, s.ConsensusLabel)
	}
}

// emitMask writes a reconstructed mask to disk and/or exports its slices.
func emitMask(mask models.Mask, background []float64, frame *models.Frame, outputFile string, saveSlices bool, slicesDir string) {
	shape := mask.BBox.Shape()
	fmt.Printf("Mask frame: %s, bounding box (z,y,x): start %v stop %v, shape %v, %d voxels set\n",
		mask.BBox.Kind, mask.BBox.Start, mask.BBox.Stop, shape, mask.TrueCount())

	if outputFile != "" {
		if err := maskio.Save(outputFile, mask); err != nil {
			log.Fatalf("Failed to save mask: %v", err)
		}
		fmt.Printf("Mask saved to: %s\n", outputFile)
	}

	if saveSlices {
		viewer := visualization.NewViewer(mask)
		if background != nil && frame != nil {
			if err := viewer.SetBackground(background, *frame); err != nil {
				log.Printf("Warning: cannot attach volume background: %v", err)
			}
		}
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)
			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Printf("Warning: failed to save %s-axis slices: %v", axis, err)
			}
		}
	}
}

// runBatch reconstructs the consensus mask of every reliable nodule of every
// scan listed in uidFile, writing one mask file per nodule. Per-scan
// failures are reported at the end without aborting the batch.
func runBatch(reconstructor *reconstruction.Reconstructor, uidFile, outDir string, frame *models.Frame, threshold float64, minAnnotations, workers int) {
	uids, err := readUIDFile(uidFile)
	if err != nil {
		log.Fatalf("Failed to read UID list: %v", err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	fmt.Printf("Batch reconstruction: %d scans, %d workers, threshold %.2f\n", len(uids), workers, threshold)
	startTime := time.Now()

	loader := reconstructor.Loader()
	failures := reconstructor.MapScans(context.Background(), uids, workers, func(ctx context.Context, scan *models.Scan) error {
		clusters, err := loader.ReliableNodules(scan.SeriesUID, minAnnotations)
		if err != nil {
			return err
		}
		targetFrame, kind := scan.Frame, models.FrameNative
		if frame != nil {
			targetFrame, kind = *frame, models.FrameVolume
		}
		for i, cluster := range clusters {
			mask, err := reconstructor.ConsensusMask(cluster, targetFrame, kind, threshold)
			if err != nil {
				return fmt.Errorf("nodule %d: %w", i, err)
			}
			path := filepath.Join(outDir, fmt.Sprintf("%s_nodule_%02d.nmsk", scan.SeriesUID, i))
			if err := maskio.Save(path, mask); err != nil {
				return err
			}
		}
		return nil
	})

	fmt.Printf("Batch completed in %.2f seconds: %d/%d scans succeeded\n",
		time.Since(startTime).Seconds(), len(uids)-len(failures), len(uids))
	for uid, err := range failures {
		fmt.Printf("  FAILED %s: %v\n", uid, err)
	}
}

// readUIDFile reads one series UID per line, skipping blanks.
func readUIDFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var uids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			uids = append(uids, line)
		}
	}
	return uids, scanner.Err()
}
