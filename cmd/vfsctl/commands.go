package main

import (
	"io/ioutil"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinydisk/vdisk/pkg/vfs"
)

// openFS bootstraps the filesystem backing vfsctl's --disk flag, formatting
// it on first use, exactly as vfs.New documents.
func openFS() (*vfs.FileSystem, error) {
	fs, err := vfs.New(flagDisk)
	if err != nil {
		log.Errorf("%v", err)
		return nil, err
	}
	return fs, nil
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir PATH",
	Short: "Create a directory.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := openFS()
		if err != nil {
			return err
		}
		if err := fs.Mkdir(args[0]); err != nil {
			log.Errorf("mkdir %s: %v", args[0], err)
			return err
		}
		log.Infof("mkdir %s", args[0])
		return nil
	},
}

var rmdirCmd = &cobra.Command{
	Use:   "rmdir PATH",
	Short: "Remove an empty directory.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := openFS()
		if err != nil {
			return err
		}
		if err := fs.Rmdir(args[0]); err != nil {
			log.Errorf("rmdir %s: %v", args[0], err)
			return err
		}
		log.Infof("rmdir %s", args[0])
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Remove a regular file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := openFS()
		if err != nil {
			return err
		}
		if err := fs.Remove(args[0]); err != nil {
			log.Errorf("rm %s: %v", args[0], err)
			return err
		}
		log.Infof("rm %s", args[0])
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put PATH",
	Short: "Write stdin to PATH, creating it if it does not exist.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := openFS()
		if err != nil {
			return err
		}
		if err := fs.Open(args[0]); err != nil {
			log.Errorf("open %s: %v", args[0], err)
			return err
		}
		data, err := ioutil.ReadAll(os.Stdin)
		if err != nil {
			log.Errorf("reading stdin: %v", err)
			return err
		}
		if err := fs.Write(data); err != nil {
			log.Errorf("write %s: %v", args[0], err)
			return err
		}
		if err := fs.Close(); err != nil {
			log.Errorf("close %s: %v", args[0], err)
			return err
		}
		log.Infof("put %s (%d bytes)", args[0], len(data))
		return nil
	},
}

var catCmd = &cobra.Command{
	Use:   "cat PATH",
	Short: "Write the contents of PATH to stdout.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := openFS()
		if err != nil {
			return err
		}
		if err := fs.Open(args[0]); err != nil {
			log.Errorf("open %s: %v", args[0], err)
			return err
		}
		buf := make([]byte, fs.GetOpenFileSize())
		if err := fs.Read(buf); err != nil {
			log.Errorf("read %s: %v", args[0], err)
			return err
		}
		if err := fs.Close(); err != nil {
			log.Errorf("close %s: %v", args[0], err)
			return err
		}
		if _, err := os.Stdout.Write(buf); err != nil {
			return err
		}
		return nil
	},
}

var sizeCmd = &cobra.Command{
	Use:   "size PATH",
	Short: "Print the size in bytes of the regular file at PATH.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := openFS()
		if err != nil {
			return err
		}
		if err := fs.Open(args[0]); err != nil {
			log.Errorf("open %s: %v", args[0], err)
			return err
		}
		size := fs.GetOpenFileSize()
		if err := fs.Close(); err != nil {
			log.Errorf("close %s: %v", args[0], err)
			return err
		}
		log.Printf("%d", size)
		return nil
	},
}
