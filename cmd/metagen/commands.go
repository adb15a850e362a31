package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"metagen/server/internal/genclient"
	"metagen/server/internal/generation"
	"metagen/server/internal/model"
)

var (
	emailFlag    string
	passwordFlag string

	hookFlag          string
	toneFlag          string
	sourceFlag        string
	assetFlags        []string
	titleFlag         string
	descFlag          string
	contextFlag       string
	noThumbnailsFlag  bool
	noDescriptionFlag bool
	noTagsFlag        bool
	moreFlag          int
	selectFlag        int
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and save the access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if emailFlag == "" || passwordFlag == "" {
			return errors.New("--email and --password are required")
		}
		c := genclient.New(serverFlag)
		res, err := c.Login(cmd.Context(), emailFlag, passwordFlag)
		if err != nil {
			return err
		}
		if err := saveToken(res.AccessToken); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		log.Info().Str("email", emailFlag).Msg("logged in")
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a video or image and print its asset id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := authedClient()
		if err != nil {
			return err
		}
		resp, err := c.UploadFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		log.Info().Str("asset_id", resp.AssetID).Str("type", resp.FileType).Int64("size", resp.FileSize).Msg("uploaded")
		return printJSON(resp)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate thumbnails, description and tags for a video",
	RunE:  runGenerate,
}

func init() {
	loginCmd.Flags().StringVar(&emailFlag, "email", "", "account email")
	loginCmd.Flags().StringVar(&passwordFlag, "password", os.Getenv("METAGEN_PASSWORD"), "account password")

	f := generateCmd.Flags()
	f.StringVar(&hookFlag, "hook", "", "hook text shown on the thumbnail")
	f.StringVar(&toneFlag, "tone", string(model.ToneViral), "viral, curiosity or educational")
	f.StringVar(&sourceFlag, "source", string(model.SourceVideoFrames), "videoFrames or images")
	f.StringArrayVar(&assetFlags, "asset", nil, "uploaded asset id (repeat for images)")
	f.StringVar(&titleFlag, "title", "", "video title")
	f.StringVar(&descFlag, "description", "", "existing video description")
	f.StringVar(&contextFlag, "context", "", "additional context for the description")
	f.BoolVar(&noThumbnailsFlag, "no-thumbnails", false, "skip thumbnails")
	f.BoolVar(&noDescriptionFlag, "no-description", false, "skip the description")
	f.BoolVar(&noTagsFlag, "no-tags", false, "skip tags")
	f.IntVar(&moreFlag, "more", 0, "regenerate thumbnails this many times after the first batch")
	f.IntVar(&selectFlag, "select", 0, "select the n-th variant (1-based) before printing")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	c, err := authedClient()
	if err != nil {
		return err
	}
	in := generation.Input{
		Source:            model.Source{Type: model.SourceKind(sourceFlag), AssetIDs: assetFlags},
		HookText:          hookFlag,
		Tone:              model.Tone(toneFlag),
		Enabled:           generation.Enabled{Thumbnails: !noThumbnailsFlag, Description: !noDescriptionFlag, Tags: !noTagsFlag},
		VideoTitle:        titleFlag,
		VideoDescription:  descFlag,
		AdditionalContext: contextFlag,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	orch := generation.New(c, generation.Options{OnChange: logChange})
	defer orch.Close()

	if _, err := orch.GenerateAll(ctx, in); err != nil {
		return err
	}
	for i := 0; i < moreFlag; i++ {
		if _, err := orch.Regenerate(ctx, in); err != nil {
			var capErr *generation.CapacityError
			if errors.As(err, &capErr) {
				log.Warn().Int("max", capErr.Max).Msg("variant limit reached")
				break
			}
			return err
		}
	}
	if selectFlag > 0 {
		st := orch.Snapshot()
		if selectFlag > len(st.Variants) {
			return fmt.Errorf("--select %d: only %d variants", selectFlag, len(st.Variants))
		}
		if err := orch.Select(st.Variants[selectFlag-1].ID); err != nil {
			return err
		}
	}
	return printJSON(orch.Snapshot())
}

func logChange(ch generation.Change) {
	switch ch.Type {
	case generation.ChangeSection:
		log.Debug().Str("section", string(ch.Section.Section)).Str("status", string(ch.Section.Status)).Msg("section")
	case generation.ChangeAlert:
		if ch.Alert.Removed || !ch.Alert.Alert.IsVisible {
			return
		}
		a := ch.Alert.Alert
		ev := log.Info()
		switch a.Kind {
		case generation.AlertError:
			ev = log.Error()
		case generation.AlertWarning:
			ev = log.Warn()
		}
		ev.Str("scope", string(a.Scope)).Msg(a.Message)
	case generation.ChangeSettled:
		log.Debug().Str("announcement", ch.Summary.Announcement).Msg("settled")
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
