package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/sealbox/backend/internal/config"
	"github.com/sealbox/backend/internal/validation"
	"github.com/sealbox/backend/internal/wire"
)

func uploadCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath, server := commonFlags(fs)
	remote := fs.String("name", "", "Remote path (default: file name)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: sealbox upload [flags] <file>")
	}

	local := fs.Arg(0)
	if err := validation.ValidateFilePath(local, true); err != nil {
		return err
	}
	if *remote == "" {
		*remote = filepath.Base(local)
	}
	if err := validation.ValidateRemotePath(*remote); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, *server)
	if err != nil {
		return err
	}

	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() > cfg.MaxDeclaredSize {
		return fmt.Errorf("%s is %s, above the %s limit", local, humanize.Bytes(uint64(info.Size())), humanize.Bytes(uint64(cfg.MaxDeclaredSize)))
	}

	pw, err := readPassword(true)
	if err != nil {
		return err
	}
	defer pw.Wipe()

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	res := s.run(ctx, "upload", func(ctx context.Context) (int32, error) {
		return s.client.Upload(ctx, *remote, f, info.Size(), pw, progressPrinter())
	})
	fmt.Fprintln(os.Stderr)
	if err := statusError("upload", res.Status, res.Err); err != nil {
		return err
	}
	fmt.Printf("Uploaded %s as %s (%s)\n", local, *remote, humanize.Bytes(uint64(info.Size())))
	return nil
}

func downloadCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	configPath, server := commonFlags(fs)
	output := fs.String("o", "", "Output file (default: download_dir/<name>)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: sealbox download [flags] <remote>")
	}

	remote := fs.Arg(0)
	if err := validation.ValidateRemotePath(remote); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath, *server)
	if err != nil {
		return err
	}
	if *output == "" {
		*output = filepath.Join(cfg.DownloadDir, path.Base(remote))
	}

	pw, err := readPassword(false)
	if err != nil {
		return err
	}
	defer pw.Wipe()

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	err = writeOutput(*output, func(w io.Writer) error {
		res := s.run(ctx, "download", func(ctx context.Context) (int32, error) {
			return s.client.Download(ctx, remote, w, pw, progressPrinter())
		})
		fmt.Fprintln(os.Stderr)
		return statusError("download", res.Status, res.Err)
	})
	if err != nil {
		return err
	}
	fmt.Printf("Downloaded %s to %s\n", remote, *output)
	return nil
}

func shareCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("share", flag.ExitOnError)
	configPath, server := commonFlags(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: sealbox share <remote>")
	}

	remote := fs.Arg(0)
	if err := validation.ValidateRemotePath(remote); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath, *server)
	if err != nil {
		return err
	}

	pw, err := readPassword(false)
	if err != nil {
		return err
	}
	defer pw.Wipe()

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	var link *wire.ShareLink
	res := s.run(ctx, "share", func(ctx context.Context) (int32, error) {
		var (
			status int32
			err    error
		)
		link, status, err = s.client.MakeShare(ctx, remote, pw)
		return status, err
	})
	if err := statusError("share", res.Status, res.Err); err != nil {
		return err
	}

	fmt.Println("Share created. Give the recipient both values:")
	fmt.Printf("  ID:  %s\n", link.ID)
	fmt.Printf("  Key: %s\n", link.Key)
	return nil
}

func unshareCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("unshare", flag.ExitOnError)
	configPath, server := commonFlags(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: sealbox unshare <remote>")
	}

	remote := fs.Arg(0)
	if err := validation.ValidateRemotePath(remote); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath, *server)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	res := s.run(ctx, "unshare", func(ctx context.Context) (int32, error) {
		return s.client.RemoveShare(ctx, remote)
	})
	if err := statusError("unshare", res.Status, res.Err); err != nil {
		return err
	}
	fmt.Printf("Share of %s removed\n", remote)
	return nil
}

func shareInfoCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("share-info", flag.ExitOnError)
	configPath, server := commonFlags(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: sealbox share-info <id>")
	}

	id := fs.Arg(0)
	cfg, err := loadConfig(*configPath, *server)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	info, err := s.shareInfo(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("Name: %s\n", info.Name)
	fmt.Printf("Size: %s\n", humanize.Bytes(uint64(info.Size)))
	return nil
}

func fetchShareCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch-share", flag.ExitOnError)
	configPath, server := commonFlags(fs)
	output := fs.String("o", "", "Output file (default: download_dir/<shared name>)")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return errors.New("usage: sealbox fetch-share [flags] <id> <key>")
	}

	id, key := fs.Arg(0), fs.Arg(1)
	if err := validation.ValidateShareID(id); err != nil {
		return err
	}
	if err := validation.ValidateShareKey(key); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath, *server)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	info, err := s.shareInfo(ctx, id)
	if err != nil {
		return err
	}
	if *output == "" {
		name := filepath.Base(info.Name)
		if name == "." || name == ".." || name == string(filepath.Separator) {
			name = id
		}
		*output = filepath.Join(cfg.DownloadDir, name)
	}
	fmt.Fprintf(os.Stderr, "Fetching %s (%s)\n", info.Name, humanize.Bytes(uint64(info.Size)))

	err = writeOutput(*output, func(w io.Writer) error {
		res := s.run(ctx, "fetch-share", func(ctx context.Context) (int32, error) {
			return s.client.DownloadShare(ctx, id, key, w, progressPrinter())
		})
		fmt.Fprintln(os.Stderr)
		return statusError("fetch-share", res.Status, res.Err)
	})
	if err != nil {
		return err
	}
	fmt.Printf("Downloaded %s to %s\n", info.Name, *output)
	return nil
}

func (s *session) shareInfo(ctx context.Context, id string) (*wire.ShareInfo, error) {
	var info *wire.ShareInfo
	res := s.run(ctx, "share-info", func(ctx context.Context) (int32, error) {
		var (
			status int32
			err    error
		)
		info, status, err = s.client.GetShare(ctx, id)
		return status, err
	})
	if err := statusError("share-info", res.Status, res.Err); err != nil {
		return nil, err
	}
	return info, nil
}

func configCmd(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath(), "Configuration file")
	initFile := fs.Bool("init", false, "Write the default configuration if the file does not exist")
	fs.Parse(args)

	if *initFile {
		if _, err := os.Stat(*configPath); err == nil {
			return fmt.Errorf("%s already exists", *configPath)
		}
		if err := config.DefaultConfig().Save(*configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", *configPath)
		return nil
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n", *configPath)
	return printConfig(os.Stdout, cfg)
}

// writeOutput runs fill against a new file at dst and deletes the file
// unless fill succeeds. A failed download may have written unauthenticated
// plaintext, which must not be left behind.
func writeOutput(dst string, fill func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() {
		cerr := f.Close()
		if err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()
	return fill(f)
}
