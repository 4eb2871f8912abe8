package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/rekberpay/internal/effects"
	"github.com/mbd888/rekberpay/internal/escrow"
	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/idgen"
	"github.com/mbd888/rekberpay/internal/metrics"
	"github.com/mbd888/rekberpay/internal/pagination"
	"github.com/mbd888/rekberpay/internal/traces"
	"github.com/mbd888/rekberpay/internal/validation"
)

// OpenRequest is the input for Open.
type OpenRequest struct {
	EscrowID    string `json:"escrowId"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// Open files a dispute against a funded or in-progress escrow and moves the
// escrow to disputed. Only the buyer or seller may open one.
func (s *Service) Open(ctx context.Context, actor identity.Actor, req OpenRequest) (_ *Dispute, err error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Open", traces.EscrowID(req.EscrowID), traces.UserID(actor.UserID))
	defer func() { traces.End(span, err) }()

	if errs := validation.Validate(
		validation.Required("escrowId", req.EscrowID),
		validation.Required("reason", req.Reason),
		validation.MaxLength("reason", req.Reason, 500),
		validation.MaxLength("description", req.Description, validation.MaxStringLength),
	); len(errs) > 0 {
		return nil, errs
	}

	var (
		d  *Dispute
		fx effects.List
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		target, err := s.escrows.Lookup(ctx, req.EscrowID)
		if err != nil {
			return err
		}
		if err := escrow.Authorize(escrow.OpOpenDispute, actor, target); err != nil {
			return err
		}
		existing, err := s.store.GetByEscrow(ctx, req.EscrowID)
		switch {
		case err == nil && existing != nil:
			return ErrDisputeExists
		case err != nil && !errors.Is(err, ErrDisputeNotFound):
			return err
		}

		e, escrowFx, err := s.escrows.EnterDispute(ctx, actor, req.EscrowID)
		if err != nil {
			return err
		}
		fx.Merge(escrowFx)

		against := e.BuyerID
		if actor.UserID == e.BuyerID {
			against = e.SellerID
		}
		now := s.now()
		d = &Dispute{
			ID:               idgen.New(),
			EscrowID:         e.ID,
			InitiatedBy:      actor.UserID,
			InitiatedAgainst: against,
			MediatorID:       e.MediatorID,
			Reason:           validation.SanitizeString(req.Reason, 500),
			Description:      validation.SanitizeString(req.Description, validation.MaxStringLength),
			Status:           StatusOpen,
			BuyerEvidence:    []Evidence{},
			SellerEvidence:   []Evidence{},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.store.Create(ctx, d); err != nil {
			return err
		}

		fx.Audit(effects.EntityDispute, d.ID, "created", actor.UserID, nil,
			map[string]any{"escrowId": e.ID, "status": d.Status, "reason": d.Reason})
		fx.Notify(effects.Notification{
			UserID:            against,
			Type:              effects.NotifyDisputeCreated,
			Title:             "Dispute Opened",
			Message:           fmt.Sprintf("A dispute was opened on escrow %q: %s", e.Title, d.Reason),
			RelatedEntityType: effects.EntityDispute,
			RelatedEntityID:   d.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DisputesOpenedTotal.Inc()
	s.logger.Info("dispute opened", "dispute_id", d.ID, "escrow_id", d.EscrowID, "user_id", actor.UserID)
	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return d.clone(), nil
}

// Get returns a dispute the actor may view.
func (s *Service) Get(ctx context.Context, actor identity.Actor, id string) (*Dispute, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(OpView, actor, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetByEscrow returns the dispute attached to an escrow.
func (s *Service) GetByEscrow(ctx context.Context, actor identity.Actor, escrowID string) (*Dispute, error) {
	d, err := s.store.GetByEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(OpView, actor, d); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns disputes, newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]*Dispute, error) {
	page := pagination.Clamp(limit, offset, 50, 200)
	return s.store.List(ctx, status, page.Limit, page.Offset)
}

// MessageRequest is the input for AddMessage.
type MessageRequest struct {
	Message     string   `json:"message"`
	Attachments []string `json:"attachments"`
	IsInternal  bool     `json:"isInternal"`
}

// AddMessage appends to the dispute thread. Parties, the mediator and
// admins may post; only the mediator and admins may post internal notes.
func (s *Service) AddMessage(ctx context.Context, actor identity.Actor, disputeID string, req MessageRequest) (*Message, error) {
	checks := []func() *validation.ValidationError{
		validation.Required("message", req.Message),
		validation.MaxLength("message", req.Message, validation.MaxStringLength),
		validation.Check(len(req.Attachments) <= 10, "attachments", "at most 10 attachments"),
	}
	for _, a := range req.Attachments {
		checks = append(checks, validation.ValidURL("attachments", a))
	}
	if errs := validation.Validate(checks...); len(errs) > 0 {
		return nil, errs
	}

	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	op := OpMessage
	if req.IsInternal {
		op = OpInternalNote
	}
	if err := Authorize(op, actor, d); err != nil {
		return nil, err
	}
	if d.Status == StatusClosed {
		return nil, fmt.Errorf("%w: dispute is closed", ErrInvalidStatus)
	}

	m := &Message{
		ID:          idgen.New(),
		DisputeID:   d.ID,
		SenderID:    actor.UserID,
		Message:     validation.SanitizeString(req.Message, validation.MaxStringLength),
		Attachments: req.Attachments,
		IsInternal:  req.IsInternal,
		CreatedAt:   s.now(),
	}
	if err := s.store.AddMessage(ctx, m); err != nil {
		return nil, err
	}

	var fx effects.List
	fx.Audit(effects.EntityDisputeMsg, m.ID, "created", actor.UserID, nil,
		map[string]any{"disputeId": d.ID, "isInternal": m.IsInternal})
	for _, uid := range participants(d, !m.IsInternal) {
		if uid == actor.UserID {
			continue
		}
		fx.Notify(effects.Notification{
			UserID:            uid,
			Type:              effects.NotifyDisputeMessage,
			Title:             "New Dispute Message",
			Message:           "A new message was posted on your dispute",
			RelatedEntityType: effects.EntityDispute,
			RelatedEntityID:   d.ID,
		})
	}
	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return m, nil
}

// Messages returns the thread oldest first. Internal notes are hidden from
// the parties.
func (s *Service) Messages(ctx context.Context, actor identity.Actor, disputeID string) ([]*Message, error) {
	d, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(OpView, actor, d); err != nil {
		return nil, err
	}

	all, err := s.store.Messages(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if Authorize(OpInternalNote, actor, d) == nil {
		return all, nil
	}
	visible := make([]*Message, 0, len(all))
	for _, m := range all {
		if !m.IsInternal {
			visible = append(visible, m)
		}
	}
	return visible, nil
}

// EvidenceRequest is the input for SubmitEvidence.
type EvidenceRequest struct {
	Description string   `json:"description"`
	URLs        []string `json:"urls"`
}

// SubmitEvidence appends evidence to the submitting party's side.
func (s *Service) SubmitEvidence(ctx context.Context, actor identity.Actor, disputeID string, req EvidenceRequest) (*Dispute, error) {
	checks := []func() *validation.ValidationError{
		validation.Required("description", req.Description),
		validation.MaxLength("description", req.Description, validation.MaxStringLength),
		validation.Check(len(req.URLs) <= 20, "urls", "at most 20 urls"),
	}
	for _, u := range req.URLs {
		checks = append(checks, validation.ValidURL("urls", u))
	}
	if errs := validation.Validate(checks...); len(errs) > 0 {
		return nil, errs
	}

	var (
		d  *Dispute
		fx effects.List
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.store.GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if err := Authorize(OpEvidence, actor, d); err != nil {
			return err
		}
		if d.Status.Settled() {
			return fmt.Errorf("%w: dispute is %s", ErrInvalidStatus, d.Status)
		}
		e, err := s.escrows.Lookup(ctx, d.EscrowID)
		if err != nil {
			return err
		}

		now := s.now()
		ev := Evidence{
			Description: validation.SanitizeString(req.Description, validation.MaxStringLength),
			URLs:        req.URLs,
			SubmittedBy: actor.UserID,
			SubmittedAt: now,
		}
		side := "seller"
		if actor.UserID == e.BuyerID {
			side = "buyer"
			d.BuyerEvidence = append(d.BuyerEvidence, ev)
		} else {
			d.SellerEvidence = append(d.SellerEvidence, ev)
		}
		d.UpdatedAt = now
		if err := s.store.Update(ctx, d); err != nil {
			return err
		}
		fx.Audit(effects.EntityDispute, d.ID, "evidence_submitted", actor.UserID, nil,
			map[string]any{"side": side, "urls": len(ev.URLs)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return d.clone(), nil
}

// AssignMediator puts a mediator in charge of the dispute and the escrow.
// Admin only; the target must hold the mediator role.
func (s *Service) AssignMediator(ctx context.Context, actor identity.Actor, disputeID string, mediatorID int64) (*Dispute, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if s.roles == nil {
		return nil, errors.New("mediator assignment requires a role lookup")
	}
	role, err := s.roles.Role(ctx, mediatorID)
	if err != nil {
		return nil, err
	}
	if role != identity.RoleMediator {
		return nil, fmt.Errorf("%w: user %d is %s", ErrNotMediator, mediatorID, role)
	}

	var (
		d    *Dispute
		from Status
		fx   effects.List
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.store.GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if d.Status.Settled() {
			return fmt.Errorf("%w: dispute is %s", ErrInvalidStatus, d.Status)
		}
		if err := s.escrows.AssignMediator(ctx, d.EscrowID, mediatorID); err != nil {
			return err
		}

		from = d.Status
		d.MediatorID = &mediatorID
		if d.Status == StatusOpen || d.Status == StatusInReview {
			d.Status = StatusMediation
		}
		d.UpdatedAt = s.now()
		if err := s.store.Update(ctx, d); err != nil {
			return err
		}

		fx.Audit(effects.EntityDispute, d.ID, "mediator_assigned", actor.UserID,
			map[string]any{"status": from},
			map[string]any{"status": d.Status, "mediatorId": mediatorID})
		for _, uid := range participants(d, true) {
			fx.Notify(effects.Notification{
				UserID:            uid,
				Type:              effects.NotifyDisputeMediator,
				Title:             "Mediator Assigned",
				Message:           "A mediator has been assigned to the dispute",
				RelatedEntityType: effects.EntityDispute,
				RelatedEntityID:   d.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("mediator assigned", "dispute_id", d.ID, "mediator_id", mediatorID, "from", from, "to", d.Status)
	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return d.clone(), nil
}

// UpdateStatus moves an unresolved dispute between review states.
func (s *Service) UpdateStatus(ctx context.Context, actor identity.Actor, disputeID string, next Status) (*Dispute, error) {
	if errs := validation.Validate(
		validation.OneOf("status", string(next), string(StatusInReview), string(StatusMediation), string(StatusEscalated)),
	); len(errs) > 0 {
		return nil, errs
	}

	var (
		d  *Dispute
		fx effects.List
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.store.GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if err := Authorize(OpUpdateStatus, actor, d); err != nil {
			return err
		}
		from := d.Status
		if !from.CanTransition(next) {
			return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidStatus, from, next)
		}
		d.Status = next
		d.UpdatedAt = s.now()
		if err := s.store.Update(ctx, d); err != nil {
			return err
		}

		fx.Audit(effects.EntityDispute, d.ID, "status_changed", actor.UserID,
			map[string]any{"status": from}, map[string]any{"status": next})
		for _, uid := range []int64{d.InitiatedBy, d.InitiatedAgainst} {
			fx.Notify(effects.Notification{
				UserID:            uid,
				Type:              effects.NotifyDisputeStatus,
				Title:             "Dispute Updated",
				Message:           fmt.Sprintf("Your dispute is now %s", next),
				RelatedEntityType: effects.EntityDispute,
				RelatedEntityID:   d.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return d.clone(), nil
}

// ResolveRequest is the input for Resolve. SellerShare is required for
// split and custom resolutions.
type ResolveRequest struct {
	Resolution  Resolution `json:"resolution"`
	SellerShare *int64     `json:"sellerShare"`
	Details     string     `json:"details"`
	Notes       string     `json:"notes"`
}

func (r ResolveRequest) split() escrow.Split {
	switch r.Resolution {
	case ResolutionFullRelease:
		return escrow.Split{Kind: escrow.SplitReleaseAll}
	case ResolutionFullRefund:
		return escrow.Split{Kind: escrow.SplitRefundAll}
	default:
		return escrow.Split{Kind: escrow.SplitShare, SellerShare: *r.SellerShare}
	}
}

// Resolve records the outcome and settles the escrow wallet in the same
// unit of work. Admins and the assigned mediator may resolve.
func (s *Service) Resolve(ctx context.Context, actor identity.Actor, disputeID string, req ResolveRequest) (_ *Dispute, err error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Resolve", traces.DisputeID(disputeID), traces.UserID(actor.UserID))
	defer func() { traces.End(span, err) }()

	if errs := validation.Validate(
		validation.OneOf("resolution", string(req.Resolution),
			string(ResolutionFullRefund), string(ResolutionFullRelease),
			string(ResolutionSplit), string(ResolutionCustom)),
		validation.Check(!req.Resolution.NeedsShare() || req.SellerShare != nil, "sellerShare", "is required for this resolution"),
		validation.Check(req.SellerShare == nil || *req.SellerShare >= 0, "sellerShare", "must not be negative"),
		validation.MaxLength("details", req.Details, validation.MaxStringLength),
		validation.MaxLength("notes", req.Notes, validation.MaxStringLength),
	); len(errs) > 0 {
		return nil, errs
	}

	var (
		d  *Dispute
		e  *escrow.Escrow
		fx effects.List
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.store.GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if err := Authorize(OpResolve, actor, d); err != nil {
			return err
		}
		from := d.Status
		if !from.CanTransition(StatusResolved) {
			return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidStatus, from, StatusResolved)
		}

		var escrowFx effects.List
		e, escrowFx, err = s.escrows.SettleDispute(ctx, actor, d.EscrowID, req.split())
		if err != nil {
			return err
		}
		fx.Merge(escrowFx)

		now := s.now()
		resolution := req.Resolution
		share := e.Amount
		if e.Status == escrow.StatusRefunded {
			share = 0
		}
		if req.Resolution.NeedsShare() {
			share = *req.SellerShare
		}
		d.Status = StatusResolved
		d.Resolution = &resolution
		d.SellerShare = &share
		d.ResolutionDetails = validation.SanitizeString(req.Details, validation.MaxStringLength)
		if req.Notes != "" {
			d.MediatorNotes = validation.SanitizeString(req.Notes, validation.MaxStringLength)
		}
		d.ResolvedAt = &now
		d.UpdatedAt = now
		if err := s.store.Update(ctx, d); err != nil {
			return err
		}

		fx.Audit(effects.EntityDispute, d.ID, "resolved", actor.UserID,
			map[string]any{"status": from},
			map[string]any{"status": d.Status, "resolution": resolution, "sellerShare": share, "escrowStatus": e.Status})
		for _, uid := range []int64{d.InitiatedBy, d.InitiatedAgainst} {
			fx.Notify(effects.Notification{
				UserID:            uid,
				Type:              effects.NotifyDisputeResolved,
				Title:             "Dispute Resolved",
				Message:           fmt.Sprintf("The dispute was resolved: %s", resolution),
				RelatedEntityType: effects.EntityDispute,
				RelatedEntityID:   d.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DisputesResolvedTotal.WithLabelValues(string(req.Resolution)).Inc()
	s.logger.Info("dispute resolved", "dispute_id", d.ID, "escrow_id", d.EscrowID,
		"resolution", req.Resolution, "escrow_status", e.Status)
	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return d.clone(), nil
}

// Close ends a resolved dispute.
func (s *Service) Close(ctx context.Context, actor identity.Actor, disputeID string) (*Dispute, error) {
	var (
		d  *Dispute
		fx effects.List
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.store.GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if err := Authorize(OpClose, actor, d); err != nil {
			return err
		}
		if !d.Status.CanTransition(StatusClosed) {
			return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidStatus, d.Status, StatusClosed)
		}
		now := s.now()
		d.Status = StatusClosed
		d.ClosedAt = &now
		d.UpdatedAt = now
		if err := s.store.Update(ctx, d); err != nil {
			return err
		}
		fx.Audit(effects.EntityDispute, d.ID, "closed", actor.UserID,
			map[string]any{"status": StatusResolved}, map[string]any{"status": StatusClosed})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.effects.Dispatch(ctx, fx.Stamped(s.now()))
	return d.clone(), nil
}

// participants lists the parties and, when present, the mediator.
func participants(d *Dispute, includeParties bool) []int64 {
	var out []int64
	if includeParties {
		out = append(out, d.InitiatedBy, d.InitiatedAgainst)
	}
	if d.MediatorID != nil {
		out = append(out, *d.MediatorID)
	}
	return out
}
