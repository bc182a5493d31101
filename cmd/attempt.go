package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/faceid/internal/form"
	"github.com/example/faceid/internal/packager"
	"github.com/example/faceid/internal/usecase"
	"github.com/example/faceid/internal/verification"
)

var (
	deviceID   string
	multiFrame bool
	identity   form.Fields
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Capture a face and enroll it with identity metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAttempt(cmd.Context(), verification.Enroll, &identity)
	},
}

var authenticateCmd = &cobra.Command{
	Use:   "authenticate",
	Short: "Capture a face and identify it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAttempt(cmd.Context(), verification.Authenticate, nil)
	},
}

func init() {
	for _, c := range []*cobra.Command{enrollCmd, authenticateCmd} {
		c.Flags().StringVar(&deviceID, "device", "", "capture device id (default: first device)")
		rootCmd.AddCommand(c)
	}

	f := enrollCmd.Flags()
	f.BoolVar(&multiFrame, "multi-frame", false, "send every frame of the burst instead of the last one")
	f.StringVar(&identity.ID, "id", "", "identity id")
	f.StringVar(&identity.FirstName, "first-name", "", "first name (required)")
	f.StringVar(&identity.LastName, "last-name", "", "last name (required)")
	f.IntVar(&identity.Age, "age", 0, "age")
	f.StringVar(&identity.Gender, "gender", "", "gender")
	f.StringVar(&identity.Email, "email", "", "email address")
	f.StringVar(&identity.Phone, "phone", "", "phone number, digits and + only")
}

func runAttempt(ctx context.Context, route verification.Route, fields *form.Fields) error {
	prog := newProgress(os.Stderr)
	a, err := buildApp(ctx, cfg, logger, prog.observe)
	if err != nil {
		return err
	}
	defer a.Close()

	if fields != nil {
		if res := a.form.Update(*fields); !res.Valid {
			return formError(res)
		}
	}

	if err := a.orch.Init(ctx); err != nil {
		return err
	}
	if deviceID != "" {
		if err := a.orch.SwitchDevice(ctx, deviceID); err != nil {
			return err
		}
	}
	if snap := a.orch.Snapshot(); snap.State == usecase.Failed {
		return printOutcome(os.Stdout, snap)
	}

	req := usecase.CaptureRequest{Route: route}
	if multiFrame {
		req.Mode = packager.MultiFrame
	}
	if err := a.orch.Capture(ctx, req); err != nil {
		return err
	}
	return printOutcome(os.Stdout, a.orch.Snapshot())
}
