package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/internal/stream"
)

// NewListCmd creates the ls command.
func NewListCmd() *cobra.Command {
	var delimited bool

	cmd := &cobra.Command{
		Use:   "ls <url>",
		Short: "List objects under a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			st, prefix, err := OpenStore(ctx, args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			defer func() { _ = w.Flush() }()

			if delimited {
				res, err := st.ListWithDelimiter(ctx, prefix)
				if err != nil {
					return err
				}
				for _, p := range res.CommonPrefixes {
					fmt.Fprintf(w, "\tPRE\t%s\n", p)
				}
				for _, obj := range res.Objects {
					printMeta(w, obj)
				}
				return nil
			}

			ls := stream.NewList(st, prefix, stream.ListOptions{})
			for {
				chunk, err := ls.Next(ctx)
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				for _, obj := range chunk {
					printMeta(w, obj)
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&delimited, "delimited", "d", false, "group keys by '/' like directories")

	return cmd
}

func printMeta(w io.Writer, obj store.ObjectMeta) {
	ts := ""
	if !obj.LastModified.IsZero() {
		ts = obj.LastModified.Format(time.RFC3339)
	}
	fmt.Fprintf(w, "%s\t%d\t%s\n", ts, obj.Size, obj.Path)
}

// NewCatCmd creates the cat command.
func NewCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <url>",
		Short: "Write an object to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			st, path, err := OpenStore(ctx, args[0])
			if err != nil {
				return err
			}

			r, err := stream.Open(ctx, st, path, stream.ReaderOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			for {
				chunk, err := r.Read(ctx, stream.DefaultReadCapacity)
				if err != nil {
					return err
				}
				if len(chunk) == 0 {
					return nil
				}
				if _, err := os.Stdout.Write(chunk); err != nil {
					return err
				}
			}
		},
	}
}

// NewHeadCmd creates the head command.
func NewHeadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "head <url>",
		Short: "Print object metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			st, path, err := OpenStore(ctx, args[0])
			if err != nil {
				return err
			}

			meta, err := st.Head(ctx, path)
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(map[string]any{
				"path":          meta.Path,
				"size":          meta.Size,
				"etag":          meta.ETag,
				"last_modified": meta.LastModified,
			})
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
}

// NewPutCmd creates the put command.
func NewPutCmd() *cobra.Command {
	var (
		contentType string
		createOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "put <local-file> <url>",
		Short: "Upload a file (use - for stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			var src io.Reader = os.Stdin
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open file: %w", err)
				}
				defer func() { _ = file.Close() }()
				src = file
			}

			st, path, err := OpenStore(ctx, args[1])
			if err != nil {
				return err
			}

			opts := store.PutOptions{ContentType: contentType}
			if createOnly {
				opts.Mode = store.Create
			}

			w := stream.NewWriter(st, path, stream.WriterOptions{Put: opts})
			buf := make([]byte, stream.DefaultReadCapacity)
			for {
				n, err := src.Read(buf)
				if n > 0 {
					if _, werr := w.Write(ctx, buf[:n]); werr != nil {
						_ = w.Abort(ctx)
						return werr
					}
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					_ = w.Abort(ctx)
					return err
				}
			}
			if err := w.Close(ctx); err != nil {
				return err
			}

			fmt.Printf("Uploaded %s to %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "content type of the object")
	cmd.Flags().BoolVar(&createOnly, "create", false, "fail if the object already exists")

	return cmd
}

// NewRemoveCmd creates the rm command.
func NewRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <url>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			st, path, err := OpenStore(ctx, args[0])
			if err != nil {
				return err
			}
			if err := st.Delete(ctx, path); err != nil {
				return err
			}

			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

// NewCopyCmd creates the cp command.
func NewCopyCmd() *cobra.Command {
	var ifNotExists bool

	cmd := &cobra.Command{
		Use:   "cp <src-url> <dst-url>",
		Short: "Copy an object",
		Long: `Copy an object. Within one store the backend's native copy is
used; across stores the object is streamed through this process.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			srcStore, srcPath, err := OpenStore(ctx, args[0])
			if err != nil {
				return err
			}
			dstStore, dstPath, err := OpenStore(ctx, args[1])
			if err != nil {
				return err
			}

			if sameStore(args[0], args[1]) {
				if err := srcStore.Copy(ctx, srcPath, dstPath, ifNotExists); err != nil {
					return err
				}
			} else {
				if err := streamCopy(ctx, srcStore, srcPath, dstStore, dstPath, ifNotExists); err != nil {
					return err
				}
			}

			fmt.Printf("Copied %s to %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.Flags().BoolVar(&ifNotExists, "if-not-exists", false, "fail if the destination already exists")

	return cmd
}

// sameStore reports whether two URLs name the same backend instance, by
// scheme and authority.
func sameStore(a, b string) bool {
	sa, ra, okA := strings.Cut(a, "://")
	sb, rb, okB := strings.Cut(b, "://")
	if !okA || !okB || sa != sb {
		return false
	}
	ha, _, _ := strings.Cut(ra, "/")
	hb, _, _ := strings.Cut(rb, "/")
	return ha == hb
}

func streamCopy(ctx context.Context, src store.Store, srcPath string, dst store.Store, dstPath string, ifNotExists bool) error {
	r, err := stream.Open(ctx, src, srcPath, stream.ReaderOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	var opts store.PutOptions
	if ifNotExists {
		opts.Mode = store.Create
	}
	w := stream.NewWriter(dst, dstPath, stream.WriterOptions{Put: opts})
	for {
		chunk, err := r.Read(ctx, stream.DefaultReadCapacity)
		if err != nil {
			_ = w.Abort(ctx)
			return err
		}
		if len(chunk) == 0 {
			break
		}
		if _, err := w.Write(ctx, chunk); err != nil {
			_ = w.Abort(ctx)
			return err
		}
	}
	return w.Close(ctx)
}

// NewSignCmd creates the sign command.
func NewSignCmd() *cobra.Command {
	var (
		method  string
		expires time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sign <url>",
		Short: "Generate a presigned URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			st, path, err := OpenStore(ctx, args[0])
			if err != nil {
				return err
			}

			signed, err := st.SignURL(ctx, method, path, expires)
			if err != nil {
				return err
			}

			fmt.Println(signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method to sign for")
	cmd.Flags().DurationVar(&expires, "expires", 15*time.Minute, "signed URL lifetime")

	return cmd
}
