// Command uft is the front-end over the library: identify images, show their
// geometry, list their directories, convert between container formats, and
// merge multiple captures of the same disk.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/detect"
	"github.com/retrofloppy/uft/formats"
	"github.com/retrofloppy/uft/fs/amigados"
	"github.com/retrofloppy/uft/fs/ataridos"
	"github.com/retrofloppy/uft/fs/cbmdos"
	"github.com/retrofloppy/uft/pipeline"
)

func main() {
	app := cli.App{
		Name:  "uft",
		Usage: "Inspect, convert and merge vintage floppy disk images",
		Commands: []*cli.Command{
			{
				Name:      "detect",
				Usage:     "Identify an image's format without opening it",
				Action:    detectImage,
				ArgsUsage: "IMAGE",
			},
			{
				Name:      "info",
				Usage:     "Open an image and print its geometry",
				Action:    showInfo,
				ArgsUsage: "IMAGE",
			},
			{
				Name:      "ls",
				Usage:     "List the directory of an image's filesystem",
				Action:    listDirectory,
				ArgsUsage: "IMAGE",
			},
			{
				Name:      "convert",
				Usage:     "Rewrite an image into another container format",
				Action:    convertImage,
				ArgsUsage: "SOURCE DEST",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "format",
						Usage:    "target format id (d64, adf, imd, ...)",
						Required: true,
					},
				},
			},
			{
				Name:      "merge",
				Usage:     "Merge multiple captures of one disk into a best image",
				Action:    mergeImages,
				ArgsUsage: "REVISION...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Usage:    "output image path",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "format",
						Usage:    "output format id",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "extended",
						Usage: "carry error and timing metadata out of band",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func extensionOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// openImage detects and opens one image file.
func openImage(path string, readOnly bool) (*uft.DiskImage, *os.File, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	img, derr := formats.DefaultRegistry().DetectAndOpen(
		detect.NewEngine(), file, stat.Size(), extensionOf(path), readOnly)
	if derr != nil {
		file.Close()
		return nil, nil, derr
	}
	return img, file, nil
}

func detectImage(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one image path")
	}
	path := ctx.Args().First()
	// Hand the whole file to the detector so structural checks that look
	// past the usual header window (the D64 BAM) can fire.
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	reports := detect.NewEngine().Detect(data, int64(len(data)), extensionOf(path))
	if len(reports) == 0 {
		return fmt.Errorf("%s: no known format matches", path)
	}
	for _, r := range reports {
		version := r.Version
		if version != "" {
			version = " " + version
		}
		note := ""
		if r.Compressed {
			note = " (compressed)"
		}
		fmt.Printf("%3d%%  %-8s %s%s%s\n", r.Confidence, r.Format, r.Name, version, note)
	}
	return nil
}

func showInfo(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one image path")
	}
	img, file, err := openImage(ctx.Args().First(), true)
	if err != nil {
		return err
	}
	defer file.Close()
	defer img.Close()

	g := img.Geometry
	fmt.Printf("format:    %s\n", img.Format)
	fmt.Printf("geometry:  %d cylinders x %d heads x %d sectors, %d bytes/sector\n",
		g.Cylinders, g.Heads, g.SectorsPerTrack, g.SectorSize)
	fmt.Printf("capacity:  %d bytes\n", g.TotalSizeBytes())
	return nil
}

func listDirectory(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one image path")
	}
	img, file, err := openImage(ctx.Args().First(), true)
	if err != nil {
		return err
	}
	defer file.Close()
	defer img.Close()

	// The sector size separates the supported filesystem families well
	// enough for a listing command.
	switch img.Geometry.SectorSize {
	case 256:
		fs, derr := cbmdos.Open(img)
		if derr != nil {
			return derr
		}
		entries, derr := fs.List()
		if derr != nil {
			return derr
		}
		for _, e := range entries {
			fmt.Printf("%4d  %s\n", e.Blocks, e.Name)
		}
	case 512:
		fs, derr := amigados.Open(img)
		if derr != nil {
			return derr
		}
		entries, derr := fs.ListDir(fs.RootBlock())
		if derr != nil {
			return derr
		}
		for _, e := range entries {
			kind := " "
			if e.IsDir {
				kind = "d"
			}
			fmt.Printf("%s %8d  %s\n", kind, e.Size, e.Name)
		}
	case 128:
		fs, derr := ataridos.Open(img)
		if derr != nil {
			return derr
		}
		entries, derr := fs.List()
		if derr != nil {
			return derr
		}
		for _, e := range entries {
			fmt.Printf("%4d  %s\n", e.SectorCount, e.Name)
		}
	default:
		return fmt.Errorf("no filesystem support for %d-byte sectors",
			img.Geometry.SectorSize)
	}
	return nil
}

// createTarget makes a fresh image file under the named plugin.
func createTarget(path string, format uft.FormatID, g uft.Geometry) (*uft.DiskImage, *os.File, error) {
	plugin, ok := formats.DefaultRegistry().Get(format)
	if !ok {
		return nil, nil, fmt.Errorf("unknown format id %q", format)
	}
	if !plugin.Capabilities().Has(uft.CapCreate) {
		return nil, nil, fmt.Errorf("format %q cannot create images", format)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, err
	}
	img, derr := plugin.Create(file, g)
	if derr != nil {
		file.Close()
		os.Remove(path)
		return nil, nil, derr
	}
	return img, file, nil
}

func convertImage(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("expected SOURCE and DEST paths")
	}
	src, srcFile, err := openImage(ctx.Args().Get(0), true)
	if err != nil {
		return err
	}
	defer srcFile.Close()
	defer src.Close()

	dst, dstFile, err := createTarget(
		ctx.Args().Get(1), uft.FormatID(ctx.String("format")), src.Geometry)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	for cyl := uint(0); cyl < src.Geometry.Cylinders; cyl++ {
		for head := uint(0); head < src.Geometry.Heads; head++ {
			track, derr := src.ReadTrack(cyl, head)
			if derr != nil {
				return derr
			}
			if derr := dst.WriteTrack(track); derr != nil {
				return derr
			}
		}
	}
	if derr := dst.Close(); derr != nil {
		return derr
	}
	return nil
}

func mergeImages(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("expected at least one revision image")
	}
	p := pipeline.New(pipeline.Options{GenerateExtended: ctx.Bool("extended")})
	for i := 0; i < ctx.NArg(); i++ {
		img, file, err := openImage(ctx.Args().Get(i), true)
		if err != nil {
			return err
		}
		defer file.Close()
		defer img.Close()
		// Later revisions rank below earlier ones unless analysis says
		// otherwise; the hint only breaks exact ties.
		if derr := p.AddRevision(img, 128); derr != nil {
			return derr
		}
	}
	if derr := p.Read(); derr != nil {
		return derr
	}
	if derr := p.Analyze(); derr != nil {
		return derr
	}
	if derr := p.Decide(); derr != nil {
		return derr
	}
	report, derr := p.Result()
	if derr != nil {
		return derr
	}

	target, targetFile, err := createTarget(
		ctx.String("out"), uft.FormatID(ctx.String("format")), report.Geometry)
	if err != nil {
		return err
	}
	defer targetFile.Close()

	if derr := p.Preserve(target); derr != nil {
		return derr
	}
	if derr := p.Write(target); derr != nil {
		return derr
	}
	if derr := target.Close(); derr != nil {
		return derr
	}

	flavor := report.Disk.Flavor
	if flavor == "" {
		flavor = "unrecognized filesystem"
	}
	fmt.Printf("merged %d revisions: %s, %d%% quality, %d sectors with defects\n",
		report.Revisions, flavor, report.Disk.Quality, report.Disk.ErrorCount)
	return nil
}
