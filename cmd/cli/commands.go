package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/charforge/internal/config"
	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/model"
	"github.com/and161185/charforge/internal/orchestrator"
	"github.com/and161185/charforge/internal/payment"
	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	a := &app{}
	cfg, loadErr := config.LoadClient()
	if cfg != nil {
		a.cfg = *cfg
	}
	return buildRoot(a, loadErr)
}

func buildRoot(a *app, loadErr error) *cobra.Command {
	root := &cobra.Command{
		Use:           "charforge",
		Short:         "Character generation client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()
			return loadErr
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfg.ServerAddr, "server", a.cfg.ServerAddr, "backend gRPC address")
	f.StringVar(&a.cfg.CACert, "cacert", a.cfg.CACert, "CA bundle for the backend certificate")
	f.BoolVar(&a.cfg.Insecure, "insecure", a.cfg.Insecure, "skip TLS certificate verification")
	f.BoolVar(&a.cfg.Plaintext, "plaintext", a.cfg.Plaintext, "connect without TLS")
	f.StringVar(&a.cfg.GeneratorURL, "generator", a.cfg.GeneratorURL, "generation service base URL")
	f.StringVar(&a.cfg.PaymentURL, "payments", a.cfg.PaymentURL, "payment initiation base URL")
	f.DurationVar(&a.cfg.Timeout, "timeout", a.cfg.Timeout, "per-command timeout")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		versionCmd(a),
		registerCmd(a),
		loginCmd(a),
		logoutCmd(a),
		statusCmd(a),
		generateCmd(a),
		regenerateCmd(a),
		subscribeCmd(a),
		verifyCmd(a),
		galleryCmd(a),
		resetCmd(a),
	)
	return root
}

// run opens the app, calls fn with a context bounded by the timeout and
// closes the app again.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context) error) error {
	defer a.close()
	if err := a.init(); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}
	return fn(ctx)
}

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			a.printJSON(map[string]string{"version": version, "build_date": buildDate})
		},
	}
}

func credentialFlags(cmd *cobra.Command, user, pass *string) {
	cmd.Flags().StringVarP(user, "username", "u", "", "username")
	cmd.Flags().StringVarP(pass, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
}

func registerCmd(a *app) *cobra.Command {
	var user, pass string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				id, err := a.backend.Register(ctx, user, pass)
				if err != nil {
					return err
				}
				a.printJSON(map[string]string{"user_id": id.String()})
				return nil
			})
		},
	}
	credentialFlags(cmd, &user, &pass)
	return cmd
}

func loginCmd(a *app) *cobra.Command {
	var user, pass string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				tok, id, err := a.backend.Login(ctx, user, pass)
				if err != nil {
					return err
				}
				if err := a.sess.SignIn(tok.AccessToken, id, tok.ExpiresAt); err != nil {
					return err
				}
				a.printJSON(map[string]string{
					"user_id":    id.String(),
					"expires_at": tok.ExpiresAt.UTC().Format(time.RFC3339),
				})
				return nil
			})
		},
	}
	credentialFlags(cmd, &user, &pass)
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the session and clear the device cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(context.Context) error {
				return a.sess.SignOut()
			})
		},
	}
}

type statusView struct {
	Identity              string     `json:"identity"`
	FreeTrialUsed         bool       `json:"free_trial_used"`
	GenerationsCount      int64      `json:"generations_count"`
	SubscriptionActive    bool       `json:"subscription_active"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	CanGenerate           bool       `json:"can_generate"`
	Reason                string     `json:"reason,omitempty"`
	Prompt                string     `json:"prompt,omitempty"`
}

func identityLabel(id uuid.UUID) string {
	if id == uuid.Nil {
		return "anonymous"
	}
	return id.String()
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show usage and entitlement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				id := a.sess.Current()
				rec, err := a.usageStore().GetUsage(ctx, id)
				if err != nil {
					return err
				}
				d := a.evaluator().CanGenerate(id, rec)
				v := statusView{
					Identity:              identityLabel(id),
					FreeTrialUsed:         rec.FreeTrialUsed,
					GenerationsCount:      rec.GenerationsCount,
					SubscriptionActive:    rec.SubscriptionActive,
					SubscriptionExpiresAt: rec.SubscriptionExpiresAt,
					CanGenerate:           d.Allowed,
					Reason:                d.Reason,
				}
				if !d.Allowed {
					v.Prompt = d.Prompt().String()
				}
				a.printJSON(v)
				return nil
			})
		},
	}
}

type generationView struct {
	Image   *model.ImageResult `json:"image,omitempty"`
	Model   *model.ModelResult `json:"model,omitempty"`
	Denied  bool               `json:"denied,omitempty"`
	Reason  string             `json:"reason,omitempty"`
	Prompt  string             `json:"prompt,omitempty"`
	Gallery string             `json:"gallery_id,omitempty"`
}

// finishGeneration optionally builds the model, saves the result to the
// gallery and prints it. Denials are printed, not returned.
func (a *app) finishGeneration(ctx context.Context, o *orchestrator.Orchestrator, id uuid.UUID, img model.ImageResult, err error, withModel bool, name string) error {
	if d, ok := orchestrator.IsDenied(err); ok {
		a.printJSON(generationView{Denied: true, Reason: d.Decision.Reason, Prompt: d.Decision.Prompt().String()})
		return nil
	}
	if err != nil {
		return err
	}
	v := generationView{Image: &img}
	entry := model.GalleryEntry{Name: name, ImageURL: img.ImageURL}
	if withModel {
		m, err := o.RequestModel(ctx)
		if err != nil {
			a.printJSON(v)
			return fmt.Errorf("model generation failed: %w", err)
		}
		v.Model = &m
		entry.ModelURL, entry.ViewerURL = m.ModelURL, m.ViewerURL
	}
	if saved, err := a.saveToGallery(ctx, id, entry); err != nil {
		a.log.Warn("save to gallery", zap.Error(err))
	} else {
		v.Gallery = saved.ID.String()
	}
	a.printJSON(v)
	return nil
}

func (a *app) saveToGallery(ctx context.Context, id uuid.UUID, e model.GalleryEntry) (model.GalleryEntry, error) {
	if id == uuid.Nil {
		return a.cache.AddGallery(ctx, e)
	}
	return a.backend.AddGalleryEntry(ctx, id, e)
}

func generateCmd(a *app) *cobra.Command {
	var (
		p         model.ImageParams
		withModel bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a character image, and optionally its 3D model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				id := a.sess.Current()
				o := a.orchestrator()
				img, err := o.RequestImage(ctx, id, p)
				return a.finishGeneration(ctx, o, id, img, err, withModel, p.Name)
			})
		},
	}
	cmd.Flags().StringVar(&p.Name, "name", "", "character name")
	cmd.Flags().StringVar(&p.Description, "description", "", "character description")
	cmd.Flags().StringVar(&p.Color, "color", "", "dominant color")
	cmd.Flags().BoolVar(&withModel, "model", false, "also build the 3D model")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("color")
	return cmd
}

func regenerateCmd(a *app) *cobra.Command {
	var withModel bool
	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Repeat the last image request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				id := a.sess.Current()
				o := a.orchestrator()
				img, err := o.RegenerateImage(ctx, id)
				if errors.Is(err, errs.ErrNoParams) {
					return fmt.Errorf("%w: nothing to regenerate, run `charforge generate` first", errs.ErrInvalidArgument)
				}
				name := ""
				if s := o.Snapshot(); s.Params != nil {
					name = s.Params.Name
				}
				return a.finishGeneration(ctx, o, id, img, err, withModel, name)
			})
		},
	}
	cmd.Flags().BoolVar(&withModel, "model", false, "also build the 3D model")
	return cmd
}

func subscribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe",
		Short: "Start a subscription checkout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				id := a.sess.Current()
				if id == uuid.Nil {
					return errs.ErrUnauthorized
				}
				s, err := a.provider().CreatePayment(ctx, a.cfg.PaymentAmount, a.cfg.ReturnURL)
				if err != nil {
					return err
				}
				if err := a.cache.SetPending(ctx, id, s.Reference); err != nil {
					a.log.Warn("remember pending payment", zap.Error(err))
				}
				a.printJSON(map[string]string{"payment_url": s.PaymentURL, "reference": s.Reference})
				return nil
			})
		},
	}
}

type verifyView struct {
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference,omitempty"`
	CleanURL  string `json:"clean_url,omitempty"`
}

func verifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <redirect-url>",
		Short: "Verify a payment provider redirect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				res := a.verifier().Verify(ctx, a.sess.Current(), args[0])
				a.printJSON(verifyView{
					State:     res.State.String(),
					Reason:    res.Reason,
					Reference: res.Reference,
					CleanURL:  res.CleanURL,
				})
				if res.State == payment.StateErrored {
					return fmt.Errorf("verification failed: %w", res.Err)
				}
				return nil
			})
		},
	}
}

func galleryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "gallery", Short: "Saved characters"}

	var (
		since int64
		all   bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved characters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				id := a.sess.Current()
				var (
					entries []model.GalleryEntry
					err     error
				)
				if id == uuid.Nil {
					entries, err = a.cache.ListGallery(ctx, since)
				} else {
					entries, err = a.backend.ListGallery(ctx, id, since)
				}
				if err != nil {
					return err
				}
				a.printJSON(visibleEntries(entries, all))
				return nil
			})
		},
	}
	list.Flags().Int64Var(&since, "since", 0, "only changes after this sequence")
	list.Flags().BoolVar(&all, "all", false, "include deleted entries")

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a saved character",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := uuid.FromString(args[0])
			if err != nil {
				return fmt.Errorf("%w: bad id: %v", errs.ErrInvalidArgument, err)
			}
			return a.run(cmd, func(ctx context.Context) error {
				if a.sess.Current() == uuid.Nil {
					return a.cache.DeleteGallery(ctx, entryID)
				}
				return a.backend.DeleteGalleryEntry(ctx, entryID)
			})
		},
	}
	cmd.AddCommand(list, rm)
	return cmd
}

type galleryView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ImageURL  string    `json:"image_url"`
	ModelURL  string    `json:"model_url,omitempty"`
	ViewerURL string    `json:"viewer_url,omitempty"`
	Seq       int64     `json:"seq"`
	Deleted   bool      `json:"deleted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func visibleEntries(in []model.GalleryEntry, all bool) []galleryView {
	out := make([]galleryView, 0, len(in))
	for _, e := range in {
		if e.Deleted && !all {
			continue
		}
		out = append(out, galleryView{
			ID: e.ID.String(), Name: e.Name, ImageURL: e.ImageURL, ModelURL: e.ModelURL,
			ViewerURL: e.ViewerURL, Seq: e.Seq, Deleted: e.Deleted, CreatedAt: e.CreatedAt,
		})
	}
	return out
}

func resetCmd(a *app) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset usage counters (support)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				if target == "" {
					return a.usageStore().ResetUsage(ctx, a.sess.Current())
				}
				id, err := uuid.FromString(target)
				if err != nil {
					return fmt.Errorf("%w: bad user id: %v", errs.ErrInvalidArgument, err)
				}
				return a.backend.ResetUsage(ctx, id, a.cfg.SupportKey)
			})
		},
	}
	cmd.Flags().StringVar(&target, "user", "", "reset another account (needs CHARFORGE_SUPPORT_KEY)")
	return cmd
}
