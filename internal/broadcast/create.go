// internal/broadcast/create.go
package broadcast

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/common/observability"
	"broadcast-dispatch/internal/models"
	"broadcast-dispatch/internal/store"
	"broadcast-dispatch/internal/template"
)

// CreateInput describes a new broadcast. StartDate is ISO 8601; Timezone is an IANA name.
type CreateInput struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Channel     string                   `json:"channel,omitempty"`
	StartDate   string                   `json:"startDate,omitempty"`
	Timezone    string                   `json:"timezone,omitempty"`
	Contacts    []models.NewContactInput `json:"contacts,omitempty"`
	Template    *models.NewTemplateInput `json:"template,omitempty"`
}

type CreateResult struct {
	Broadcast     *models.Broadcast `json:"broadcast"`
	ContactsCount int               `json:"contactsCount"`
	Template      *models.Template  `json:"template,omitempty"`
}

// AddContactsResult counts what an add-contacts call did.
type AddContactsResult struct {
	Added   int `json:"contactsAdded"`
	Skipped int `json:"contactsSkipped"`
}

func validateContacts(inputs []models.NewContactInput) error {
	for i, c := range inputs {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Phone) == "" {
			return errors.NewValidationError(fmt.Sprintf("contact %d must have a name and a phone", i))
		}
	}
	return nil
}

func validateTemplate(in *models.NewTemplateInput) error {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Content) == "" {
		return errors.NewValidationError("template must have a name and content")
	}
	for name, meta := range in.Variables {
		if meta.Type != "" && !meta.Type.Valid() {
			return errors.NewValidationError(fmt.Sprintf("variable %q has unknown type %q", name, meta.Type))
		}
	}
	return nil
}

// Create stores a broadcast with its contacts and optional template in one
// transaction. A start date makes it SCHEDULED, otherwise it is DRAFT.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	ctx, span := observability.StartSpan(ctx, s.tracer, "broadcast.create")
	defer span.End()

	if strings.TrimSpace(in.Name) == "" {
		return nil, errors.NewValidationError("broadcast name is required")
	}
	if err := validateContacts(in.Contacts); err != nil {
		return nil, err
	}
	if in.Template != nil {
		if err := validateTemplate(in.Template); err != nil {
			return nil, err
		}
	}

	b := &models.Broadcast{
		Name:        in.Name,
		Description: in.Description,
		Channel:     in.Channel,
		Status:      models.BroadcastDraft,
	}
	if in.StartDate != "" {
		tz := in.Timezone
		if tz == "" {
			tz = s.defaultTimezone
		}
		at, err := ParseStartDate(in.StartDate, tz, s.now())
		if err != nil {
			return nil, err
		}
		b.StartDate = &at
		b.Timezone = tz
		b.Status = models.BroadcastScheduled
	} else if in.Timezone != "" {
		if _, err := LoadTimezone(in.Timezone); err != nil {
			return nil, err
		}
		b.Timezone = in.Timezone
	}

	res := &CreateResult{Broadcast: b}
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateBroadcast(ctx, b); err != nil {
			return err
		}
		for _, c := range in.Contacts {
			added, err := addContact(ctx, tx, b.ID, c)
			if err != nil {
				return err
			}
			if added {
				res.ContactsCount++
			}
		}
		if in.Template != nil {
			tpl := newTemplate(b.ID, in.Template)
			if err := tx.CreateTemplate(ctx, tpl); err != nil {
				return err
			}
			res.Template = tpl
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b.Status == models.BroadcastScheduled {
		s.logger.Info("broadcast scheduled", map[string]interface{}{
			"broadcastId": b.ID,
			"startDate":   b.StartDate,
		})
	}
	span.SetAttributes(attribute.String("broadcast.id", b.ID), attribute.Int("broadcast.contacts", res.ContactsCount))
	s.logger.Info("broadcast created", map[string]interface{}{
		"broadcastId": b.ID,
		"status":      string(b.Status),
		"contacts":    res.ContactsCount,
	})
	return res, nil
}

func addContact(ctx context.Context, st store.Contacts, broadcastID string, in models.NewContactInput) (bool, error) {
	c := &models.Contact{Name: strings.TrimSpace(in.Name), Phone: strings.TrimSpace(in.Phone)}
	if err := st.UpsertContact(ctx, c); err != nil {
		return false, err
	}
	display := in.DisplayName
	if display == "" {
		display = c.Name
	}
	return st.AddBroadcastContact(ctx, &models.BroadcastContact{
		BroadcastID: broadcastID,
		ContactID:   c.ID,
		DisplayName: display,
		Status:      models.ContactPending,
	})
}

func newTemplate(broadcastID string, in *models.NewTemplateInput) *models.Template {
	return &models.Template{
		BroadcastID: broadcastID,
		Name:        in.Name,
		Content:     in.Content,
		Variables:   in.Variables,
	}
}

// AddContacts attaches contacts to an existing broadcast. Contacts already
// attached are skipped, and a failing contact does not abort the batch.
func (s *Service) AddContacts(ctx context.Context, broadcastID string, inputs []models.NewContactInput) (*AddContactsResult, error) {
	if len(inputs) == 0 {
		return nil, errors.NewValidationError("contact list is required")
	}
	if err := validateContacts(inputs); err != nil {
		return nil, err
	}
	b, err := s.store.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b.IsDeleted() {
		return nil, errors.NewBroadcastNotFoundError(broadcastID)
	}

	res := &AddContactsResult{}
	for _, in := range inputs {
		added, err := addContact(ctx, s.store, broadcastID, in)
		if err != nil {
			s.logger.Warn("failed to add contact", map[string]interface{}{
				"broadcastId": broadcastID,
				"phone":       in.Phone,
				"error":       err.Error(),
			})
			res.Skipped++
			continue
		}
		if added {
			res.Added++
		} else {
			res.Skipped++
		}
	}

	s.logger.Info("contacts added to broadcast", map[string]interface{}{
		"broadcastId": broadcastID,
		"added":       res.Added,
		"skipped":     res.Skipped,
	})
	return res, nil
}

// AddTemplate stores a new template; it becomes the active one for the next start.
func (s *Service) AddTemplate(ctx context.Context, broadcastID string, in models.NewTemplateInput) (*models.Template, error) {
	if err := validateTemplate(&in); err != nil {
		return nil, err
	}
	b, err := s.store.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b.IsDeleted() {
		return nil, errors.NewBroadcastNotFoundError(broadcastID)
	}

	tpl := newTemplate(broadcastID, &in)
	if err := s.store.CreateTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	undeclared := []string{}
	if tpl.HasMetadata() {
		for _, name := range template.ExtractVariables(tpl.Content) {
			if _, ok := tpl.Variables[name]; !ok {
				undeclared = append(undeclared, name)
			}
		}
	}
	fields := map[string]interface{}{
		"broadcastId": broadcastID,
		"templateId":  tpl.ID,
	}
	if len(undeclared) > 0 {
		fields["undeclaredVariables"] = undeclared
	}
	s.logger.Info("template added", fields)
	return tpl, nil
}
