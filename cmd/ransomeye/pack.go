package main

import (
	"archive/tar"
	"compress/gzip"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ransomeye/rebuild-sub001/pkg/bundle"
	"github.com/ransomeye/rebuild-sub001/pkg/config"
	"github.com/ransomeye/rebuild-sub001/pkg/cryptokernel"
	"github.com/ransomeye/rebuild-sub001/pkg/manifest"
)

// runPackCmd dispatches `pack create` and `pack verify`, building and
// checking the manifest.json/manifest.sig tar.gz shape pkg/bundle.Verifier
// expects.
func runPackCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: ransomeye pack <create|verify> [flags]")
		return 2
	}
	switch args[0] {
	case "create":
		return runPackCreate(args[1:], stdout, stderr)
	case "verify":
		return runPackVerify(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown pack subcommand: %s\n", args[0])
		return 2
	}
}

func runPackCreate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pack create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "artifact name (required)")
	version := fs.String("version", "", "artifact version (required)")
	srcDir := fs.String("src", "", "directory of files to include (required)")
	out := fs.String("out", "bundle.tar.gz", "output archive path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *name == "" || *version == "" || *srcDir == "" {
		fmt.Fprintln(stderr, "pack create requires -name, -version and -src")
		return 2
	}

	cfg := config.Load()
	kernel, err := cryptokernel.LoadOrGenerate(cfg.PrivateKeyPath, cfg.PublicKeyPath)
	if err != nil {
		fmt.Fprintf(stderr, "load signing key: %v\n", err)
		return 1
	}

	relPaths, err := listFiles(*srcDir)
	if err != nil {
		fmt.Fprintf(stderr, "walk source directory: %v\n", err)
		return 1
	}
	if len(relPaths) == 0 {
		fmt.Fprintln(stderr, "source directory contains no files")
		return 1
	}

	files := make(map[string]string, len(relPaths))
	for _, rel := range relPaths {
		hash, err := cryptokernel.HashFile(filepath.Join(*srcDir, rel))
		if err != nil {
			fmt.Fprintf(stderr, "hash %s: %v\n", rel, err)
			return 1
		}
		files[rel] = hash
	}

	m := &manifest.Manifest{Metadata: manifest.Metadata{Name: *name, Version: *version}, Files: files}
	manifestJSON, err := m.MarshalCanonical()
	if err != nil {
		fmt.Fprintf(stderr, "marshal manifest: %v\n", err)
		return 1
	}
	signature, err := kernel.Sign(manifestJSON)
	if err != nil {
		fmt.Fprintf(stderr, "sign manifest: %v\n", err)
		return 1
	}
	signatureB64 := []byte(base64.StdEncoding.EncodeToString(signature))

	if err := writeArchive(*out, *srcDir, relPaths, manifestJSON, signatureB64); err != nil {
		fmt.Fprintf(stderr, "write archive: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "%sBundle written to %s%s (%d files)\n", ColorGreen, *out, ColorReset, len(relPaths))
	return 0
}

func runPackVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pack verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	archivePath := fs.String("archive", "", "path to the bundle archive (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *archivePath == "" {
		fmt.Fprintln(stderr, "pack verify requires -archive")
		return 2
	}

	cfg := config.Load()
	kernel, err := cryptokernel.LoadOrGenerate(cfg.PrivateKeyPath, cfg.PublicKeyPath)
	if err != nil {
		fmt.Fprintf(stderr, "load signing key: %v\n", err)
		return 1
	}

	workDir, err := os.MkdirTemp("", "ransomeye-pack-verify-*")
	if err != nil {
		fmt.Fprintf(stderr, "create work dir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(workDir)

	verifier := bundle.NewVerifier(kernel.PublicKey(), workDir, bundle.DefaultLimits())
	verified, err := verifier.Verify(*archivePath)
	if err != nil {
		fmt.Fprintf(stderr, "%sbundle rejected: %v%s\n", ColorRed, err, ColorReset)
		return 1
	}
	defer os.RemoveAll(verified.SandboxDir)

	fmt.Fprintf(stdout, "%sBundle accepted%s\n", ColorGreen, ColorReset)
	fmt.Fprintf(stdout, "  name:      %s\n", verified.Manifest.Metadata.Name)
	fmt.Fprintf(stdout, "  version:   %s\n", verified.Manifest.Metadata.Version)
	fmt.Fprintf(stdout, "  manifest:  %s\n", verified.ManifestID)
	fmt.Fprintf(stdout, "  files:     %d\n", len(verified.Manifest.Files))
	return 0
}

func listFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// writeArchive builds a deterministic tar.gz: content files in sorted
// order, then manifest.json, then manifest.sig, each with a fixed mode
// and zeroed mtime so two builds from identical inputs produce
// byte-identical archives.
func writeArchive(outPath, srcDir string, relPaths []string, manifestJSON, signatureB64 []byte) error {
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	for _, rel := range relPaths {
		content, err := os.ReadFile(filepath.Join(srcDir, rel))
		if err != nil {
			return err
		}
		if err := writeTarEntry(tw, rel, content); err != nil {
			return err
		}
	}
	if err := writeTarEntry(tw, "manifest.json", manifestJSON); err != nil {
		return err
	}
	if err := writeTarEntry(tw, "manifest.sig", signatureB64); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func writeTarEntry(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}
