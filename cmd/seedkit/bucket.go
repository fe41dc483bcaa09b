package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tordrt/seedkit/internal/config"
	"github.com/tordrt/seedkit/internal/supabase"
)

var storageReqs = []config.Requirement{config.NeedProject, config.NeedServiceKey}

func newBucketCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bucket",
		Short: "Inspect and create storage buckets",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List storage buckets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			rt, err := newRuntime(cmd, root, storageReqs...)
			if err != nil {
				return err
			}
			defer rt.finish(&err)

			sb, err := rt.Supabase()
			if err != nil {
				return err
			}
			buckets, err := sb.ListBuckets(cmd.Context())
			if err != nil {
				return err
			}
			rt.out.Buckets(buckets)
			return nil
		},
	}

	var (
		public  bool
		maxSize string
		mime    []string
	)
	ensure := &cobra.Command{
		Use:   "ensure NAME",
		Short: "Create a bucket unless it already exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			spec := supabase.BucketSpec{Name: args[0], Public: public, AllowedMimeTypes: mime}
			if maxSize != "" {
				n, err := humanize.ParseBytes(maxSize)
				if err != nil {
					return fmt.Errorf("invalid --max-size: %w", err)
				}
				spec.FileSizeLimit = int64(n)
			}

			rt, err := newRuntime(cmd, root, storageReqs...)
			if err != nil {
				return err
			}
			defer rt.finish(&err)

			sb, err := rt.Supabase()
			if err != nil {
				return err
			}
			b, created, err := sb.EnsureBucket(cmd.Context(), spec)
			if err != nil {
				return err
			}
			rt.log.Info("bucket ready", zap.String("bucket", b.Name), zap.Bool("created", created))
			rt.out.BucketEnsured(b, created)
			return nil
		},
	}
	ensure.Flags().BoolVar(&public, "public", false, "Make objects publicly readable")
	ensure.Flags().StringVar(&maxSize, "max-size", "", "Per-object size limit, e.g. 10MB")
	ensure.Flags().StringSliceVar(&mime, "mime", nil, "Allowed MIME types (comma-separated)")

	var (
		prefix string
		limit  int
	)
	ls := &cobra.Command{
		Use:   "ls NAME",
		Short: "List objects in a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			rt, err := newRuntime(cmd, root, storageReqs...)
			if err != nil {
				return err
			}
			defer rt.finish(&err)

			sb, err := rt.Supabase()
			if err != nil {
				return err
			}
			objs, err := sb.ListObjects(cmd.Context(), args[0], prefix, limit)
			if err != nil {
				return err
			}
			rt.out.Objects(args[0], prefix, objs)
			return nil
		},
	}
	ls.Flags().StringVar(&prefix, "prefix", "", "Only list objects under this folder")
	ls.Flags().IntVar(&limit, "limit", 100, "Maximum number of objects")

	cmd.AddCommand(list, ensure, ls)
	return cmd
}
