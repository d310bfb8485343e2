// Command mirrorface-mirror resolves a repository revision against the Hub,
// downloads its snapshot, and writes it into a local content-addressed
// store, optionally pushing the result to a remote S3-compatible bucket.
package main

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lacop/mirrorface/internal/hub"
	"github.com/lacop/mirrorface/internal/hubclient"
	"github.com/lacop/mirrorface/internal/mirror"
	"github.com/lacop/mirrorface/internal/uploader"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		repository     string
		revision       string
		localDirectory string
		upstreamURL    string
		s3Bucket       string
	)

	cmd := &cobra.Command{
		Use:   "mirrorface-mirror",
		Short: "Mirror a single repository revision into the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if repository == "" {
				return fmt.Errorf("--repository is required")
			}
			if localDirectory == "" {
				dir, err := os.MkdirTemp("", "mirrorface-*")
				if err != nil {
					return err
				}
				localDirectory = dir
				log.Infof("--local_directory unset, using %s", localDirectory)
			}

			ctx := cmd.Context()
			client := hubclient.New(upstreamURL)
			original := hub.RepositoryRevision{Repository: repository, Revision: revision}

			result, err := mirror.Mirror(ctx, client, original, localDirectory, nil)
			if err != nil {
				return fmt.Errorf("mirroring %s@%s: %w", repository, revision, err)
			}
			log.Infof("mirrored %s@%s -> %s (%d files)", repository, revision, result.Resolved.Revision, len(result.Files))

			if s3Bucket == "" {
				return nil
			}

			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return fmt.Errorf("loading AWS config: %w", err)
			}
			up := uploader.New(s3.NewFromConfig(awsCfg), s3Bucket)
			if err := up.Upload(ctx, localDirectory, result); err != nil {
				return fmt.Errorf("uploading to s3://%s: %w", s3Bucket, err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&repository, "repository", "", "repository to mirror, e.g. \"owner/name\" (required)")
	flags.StringVar(&revision, "revision", "main", "branch, tag, or commit hash to mirror")
	flags.StringVar(&localDirectory, "local_directory", "", "content-addressed store root (default: a fresh temp dir)")
	flags.StringVar(&upstreamURL, "upstream_url", "https://huggingface.co", "base URL of the upstream Hub")
	flags.StringVar(&s3Bucket, "s3-bucket", "", "if set, also push the mirrored revision to this S3 bucket")

	cmd.SetContext(context.Background())
	return cmd
}
