package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"accountlink/internal/link/models"
	id "accountlink/pkg/domain"
	"accountlink/pkg/platform/sentinel"
)

// ErrReconcileFailed marks a reconciliation that left work for an operator.
var ErrReconcileFailed = errors.New("reconciliation failed")

type reconcileView struct {
	Outcome        models.Outcome `json:"outcome"`
	ProfileID      string         `json:"profile_id,omitempty"`
	HistoryDeleted int64          `json:"history_deleted"`
	Error          string         `json:"error,omitempty"`
}

func newReconcileCmd(current func() *env) *cobra.Command {
	var anonymous, permanent string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-run the reconciliation for an anonymous to permanent link",
		RunE: func(cmd *cobra.Command, args []string) error {
			anon, err := id.ParseIdentityID(anonymous)
			if err != nil {
				return fmt.Errorf("--anonymous: %w", err)
			}
			perm, err := id.ParseIdentityID(permanent)
			if err != nil {
				return fmt.Errorf("--permanent: %w", err)
			}

			e := current()
			res := e.linker.Reconcile(cmd.Context(), anon, perm)
			view := reconcileView{Outcome: res.Outcome, HistoryDeleted: res.HistoryDeleted}
			if !res.ProfileID.IsNil() {
				view.ProfileID = res.ProfileID.String()
			}
			if res.Err != nil {
				view.Error = res.Err.Error()
			}
			if err := e.print(view, "outcome=%s profile=%s history_deleted=%d", view.Outcome, view.ProfileID, view.HistoryDeleted); err != nil {
				return err
			}
			if res.Outcome.Failed() {
				return fmt.Errorf("%w: %s", ErrReconcileFailed, res.Outcome)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&anonymous, "anonymous", "", "Anonymous identity (required)")
	cmd.Flags().StringVar(&permanent, "permanent", "", "Permanent identity (required)")
	_ = cmd.MarkFlagRequired("anonymous")
	_ = cmd.MarkFlagRequired("permanent")
	return cmd
}

type profileView struct {
	Found   bool            `json:"found"`
	Profile *models.Profile `json:"profile,omitempty"`
	History int             `json:"history_entries"`
}

func newProfileCmd(current func() *env) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the profile owned by an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := id.ParseIdentityID(owner)
			if err != nil {
				return fmt.Errorf("--owner: %w", err)
			}

			e := current()
			p, err := e.store.FindByOwner(cmd.Context(), ownerID)
			if errors.Is(err, sentinel.ErrNotFound) {
				return e.print(profileView{}, "no profile owned by %s", ownerID)
			}
			if err != nil {
				return err
			}
			history, err := e.store.ListHistory(cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			view := profileView{Found: true, Profile: p, History: len(history)}
			return e.print(view, "profile=%s owner=%s streak=%d last_check_in=%s history_entries=%d",
				p.ID, p.Owner, p.CurrentStreak, formatTime(p.LastCheckIn), len(history))
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owning identity (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

type checkInView struct {
	ProfileID string               `json:"profile_id"`
	Created   bool                 `json:"created"`
	Result    models.CheckInResult `json:"result"`
	Streak    int                  `json:"streak"`
}

func newCheckInCmd(current func() *env) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Record a daily check-in, creating the profile on first use",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := id.ParseIdentityID(owner)
			if err != nil {
				return fmt.Errorf("--owner: %w", err)
			}

			e := current()
			view, err := checkIn(cmd.Context(), e, ownerID)
			if err != nil {
				return err
			}
			return e.print(view, "profile=%s created=%t result=%s streak=%d",
				view.ProfileID, view.Created, view.Result, view.Streak)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owning identity (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func checkIn(ctx context.Context, e *env, owner id.IdentityID) (checkInView, error) {
	var view checkInView
	now := e.now()
	err := e.store.RunInTx(ctx, func(ctx context.Context) error {
		p, err := e.store.FindByOwner(ctx, owner)
		created := false
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			p = models.NewProfile(owner, now)
			created = true
		case err != nil:
			return err
		}

		result := p.CheckIn(now)
		if created {
			if err := e.store.Create(ctx, p); err != nil {
				return err
			}
		} else if result.Changed() {
			if err := e.store.Save(ctx, p); err != nil {
				return err
			}
		}
		if result.Changed() {
			if err := e.store.AppendHistory(ctx, models.NewHistoryEntry(p, now)); err != nil {
				return err
			}
		}
		view = checkInView{ProfileID: p.ID.String(), Created: created, Result: result, Streak: p.CurrentStreak}
		return nil
	})
	return view, err
}

func newOrphansCmd(current func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "Count history rows whose profile no longer exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := current()
			n, err := e.store.CountOrphanedHistory(cmd.Context())
			if err != nil {
				return err
			}
			return e.print(map[string]int64{"orphaned_history": n}, "orphaned_history=%d", n)
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
