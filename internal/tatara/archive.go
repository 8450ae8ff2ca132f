package tatara

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// extractTar unpacks an archive into dest, preferring system tar and falling
// back to a native reader chosen by extension.
func extractTar(archivePath, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create extraction dir: %w", err)
	}

	if _, err := exec.LookPath("tar"); err == nil {
		cmd := exec.Command("tar", "-xf", archivePath, "-C", dest)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err == nil {
			return nil
		}
		debugf("System tar failed for %s, falling back to native extraction\n", archivePath)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader
	switch {
	case strings.HasSuffix(archivePath, ".tar.xz"):
		r, err = xz.NewReader(f)
	case strings.HasSuffix(archivePath, ".tar.zst"):
		var zr *zstd.Decoder
		zr, err = zstd.NewReader(f)
		if err == nil {
			defer zr.Close()
			r = zr
		}
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		var gr *pgzip.Reader
		gr, err = pgzip.NewReader(f)
		if err == nil {
			defer gr.Close()
			r = gr
		}
	default:
		return fmt.Errorf("unsupported archive format: %s", archivePath)
	}
	if err != nil {
		return fmt.Errorf("failed to open decompressor for %s: %w", archivePath, err)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

// codec maps a packaging codec name to the external compressor invoked at
// maximum settings, plus the archive extension.
type codec struct {
	Prog string
	Args []string
	Ext  string
}

var codecs = map[string]codec{
	"xz":   {Prog: "xz", Args: []string{"-9e", "-T0"}, Ext: ".tar.xz"},
	"zstd": {Prog: "zstd", Args: []string{"-19", "-T0"}, Ext: ".tar.zst"},
	"gzip": {Prog: "pigz", Args: []string{"-9"}, Ext: ".tar.gz"},
}

// lookCompressor finds a compressor binary, preferring the locally
// provisioned tool prefix over the host PATH.
func lookCompressor(prog string) (string, error) {
	if local := filepath.Join(ToolPrefix, "bin", prog); fileExists(local) {
		return local, nil
	}
	return exec.LookPath(prog)
}

// packageToolchain compresses the install tree into an archive next to it.
// An empty codec name skips packaging; the raw install tree is the artifact.
func packageToolchain(plan *BuildPlan, installTree string, execCtx *Executor) (string, error) {
	if plan.Codec == "" {
		return "", nil
	}
	c := codecs[plan.Codec]
	name := fmt.Sprintf("%s-%s-gcc%d%s", plan.Triple, plan.Flavor, plan.Version, c.Ext)
	archivePath := filepath.Join(filepath.Dir(installTree), name)

	if _, err := exec.LookPath("tar"); err == nil {
		if prog, err := lookCompressor(c.Prog); err == nil {
			compressProg := strings.Join(append([]string{prog}, c.Args...), " ")
			cmd := exec.Command("tar", "-I", compressProg, "-cf", archivePath, "-C", installTree, ".")
			debugf("Creating archive with system tar: %s\n", archivePath)
			if err := execCtx.Run(cmd); err == nil {
				return archivePath, nil
			}
			debugf("System tar failed, falling back to native archiver\n")
		}
	}

	if err := nativeArchive(plan.Codec, installTree, archivePath); err != nil {
		return "", err
	}
	return archivePath, nil
}

// nativeArchive writes the tar stream through the Go compressor matching the
// codec.
func nativeArchive(codecName, srcDir, archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer out.Close()

	var w io.WriteCloser
	switch codecName {
	case "xz":
		w, err = xz.NewWriter(out)
	case "zstd":
		w, err = zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	case "gzip":
		w, err = pgzip.NewWriterLevel(out, gzip.BestCompression)
	default:
		return fmt.Errorf("unknown codec %q", codecName)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s writer: %w", codecName, err)
	}

	tw := tar.NewWriter(w)
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
		}
		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}
		hdr.Name = rel
		// Toolchain archives are portably root-owned.
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "root", "root"
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			if _, err := io.Copy(tw, f); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add files to archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return w.Close()
}
