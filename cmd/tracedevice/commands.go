package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/and161185/venue-trace/internal/metrics"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/and161185/venue-trace/internal/service"
	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (c *cli) registerCmd() *cobra.Command {
	var (
		contact model.ContactData
		update  bool
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register contact data, or replace it with --update",
		RunE: func(cmd *cobra.Command, _ []string) error {
			contact.Version = 2
			var (
				uid uuid.UUID
				err error
			)
			if update {
				uid, err = c.app.users.UpdateContactData(cmd.Context(), contact)
			} else {
				uid, err = c.app.users.Register(cmd.Context(), contact)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), uid)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&contact.FirstName, "first-name", "", "first name")
	f.StringVar(&contact.LastName, "last-name", "", "last name")
	f.StringVar(&contact.PhoneNumber, "phone", "", "phone number")
	f.StringVar(&contact.Email, "email", "", "email")
	f.StringVar(&contact.Street, "street", "", "street")
	f.StringVar(&contact.HouseNumber, "house-number", "", "house number")
	f.StringVar(&contact.PostalCode, "postal-code", "", "postal code")
	f.StringVar(&contact.City, "city", "", "city")
	f.BoolVar(&update, "update", false, "replace the registered contact data")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("last-name")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func (c *cli) qrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "qr",
		Short: "Print the current QR payload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.ensureDailyKey(cmd.Context()); err != nil {
				return err
			}
			q, err := c.app.trace.QRCode(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"payload":     q.Payload,
				"traceId":     q.TraceID.String(),
				"dailyKeyId":  q.Core.DailyKeyID,
				"timestamp":   q.Core.Timestamp,
				"generatedAt": q.GeneratedAt,
			})
		},
	}
}

func (c *cli) checkinCmd() *cobra.Command {
	var (
		scanner   string
		data      map[string]string
		hostFirst string
		hostLast  string
	)
	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Check in at a venue scanner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.FromString(scanner)
			if err != nil {
				return fmt.Errorf("--scanner: %w", err)
			}
			req := model.SelfCheckin{ScannerID: id, Kind: model.CheckinTable}
			if hostFirst != "" || hostLast != "" {
				req.Kind = model.CheckinPrivateMeeting
				req.Host = &model.MeetingHost{FirstName: hostFirst, LastName: hostLast}
			} else if len(data) > 0 {
				req.AdditionalData = make(map[string]any, len(data))
				for k, v := range data {
					req.AdditionalData[k] = v
				}
			}

			if err := c.app.ensureDailyKey(cmd.Context()); err != nil {
				return err
			}
			st, err := c.app.trace.CheckIn(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), st)
			return err
		},
	}
	cmd.Flags().StringVar(&scanner, "scanner", "", "scanner id")
	cmd.Flags().StringToStringVar(&data, "data", nil, "additional venue data, key=value")
	cmd.Flags().StringVar(&hostFirst, "host-first-name", "", "private meeting host first name")
	cmd.Flags().StringVar(&hostLast, "host-last-name", "", "private meeting host last name")
	_ = cmd.MarkFlagRequired("scanner")
	return cmd
}

func (c *cli) checkoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout",
		Short: "Check out of the current venue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.trace.CheckOut(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), model.CheckedOut)
			return err
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Reconcile and print the check-in state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var (
				st  model.EpisodeState
				err error
			)
			if offline {
				st, err = c.app.trace.State(ctx)
			} else {
				st, err = c.app.trace.FetchTraceStatus(ctx)
			}
			if err != nil {
				return err
			}
			out := map[string]any{"state": st.String()}
			if cur, ok, err := c.app.trace.Current(ctx); err != nil {
				return err
			} else if ok {
				out["traceId"] = cur.TraceID
				out["locationId"] = cur.LocationID
				out["checkin"] = cur.CheckIn
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "print local state without asking the backend")
	return cmd
}

func (c *cli) pollCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Keep check-in state and daily keys current until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := c.app
			if once {
				st, ok := a.poller.Wake(cmd.Context(), a.cfg.Device.WakeBudget)
				if !ok {
					st, _ = a.trace.State(cmd.Context())
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), st)
				return err
			}

			events, cancel := a.trace.Subscribe()
			defer cancel()

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return a.poller.Run(ctx) })
			g.Go(func() error { return a.rotator.Run(ctx, a.cfg.Device.DailyKeyRefresh) })
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case ev := <-events:
						kind := "checkin"
						if ev.Kind == model.EventCheckOut {
							kind = "checkout"
						}
						if err := printJSON(cmd.OutOrStdout(), map[string]any{"event": kind, "traceId": ev.TraceInfo.TraceID}); err != nil {
							return err
						}
					}
				}
			})
			if a.cfg.MetricsAddr != "" {
				srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: metrics.Handler(a.registry), ReadHeaderTimeout: 5 * time.Second}
				g.Go(func() error {
					a.log.Info("metrics listening", zap.String("addr", a.cfg.MetricsAddr))
					if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(sctx)
				})
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "poll once within the wake budget and exit")
	return cmd
}

func (c *cli) keysCmd() *cobra.Command {
	keys := &cobra.Command{Use: "keys", Short: "Daily key management"}
	keys.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Fetch and validate the current daily key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := c.app.rotator.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"keyId":     k.KeyID,
				"createdAt": k.CreatedAt,
				"issuerId":  k.IssuerID,
			})
		},
	})
	return keys
}

func (c *cli) accessedCmd() *cobra.Command {
	var markNotified bool
	cmd := &cobra.Command{
		Use:   "accessed",
		Short: "Check whether a health department accessed local traces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, err := c.app.access.Fetch(ctx); err != nil {
				return err
			}
			all, err := c.app.access.List(ctx)
			if err != nil {
				return err
			}
			if markNotified {
				if err := c.app.access.MarkNotified(ctx); err != nil {
					return err
				}
			}
			if all == nil {
				all = []model.AccessedTraceID{}
			}
			return printJSON(cmd.OutOrStdout(), all)
		},
	}
	cmd.Flags().BoolVar(&markNotified, "mark-notified", false, "record that the user has been told")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-secrets",
		Short: "Print the trace secrets of the last 14 days for a health department",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secrets, err := service.ExportTraceSecrets(cmd.Context(), c.app.keys, time.Now())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), secrets)
		},
	}
}

func (c *cli) deleteAccountCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Delete the user at the backend and wipe local state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to delete without --yes")
			}
			if err := c.app.users.DeleteAccount(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return err
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
