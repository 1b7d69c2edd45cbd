package policy

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/pairdata/internal/domain"
)

var tracer = otel.Tracer("policy")

// SharingReader reads the live sharing state of assets. Results must not be cached.
type SharingReader interface {
	LoadSharing(ctx context.Context, parentUID string) (domain.DataSharing, error)
	LoadSchemaFields(ctx context.Context, parentUID string) ([]string, error)
	HasManageCapability(ctx context.Context, requester, assetUID string) (bool, error)
}

// Evaluator decides whether a child may pair with a parent and which fields it gets.
type Evaluator struct {
	reader SharingReader
}

func NewEvaluator(reader SharingReader) *Evaluator {
	return &Evaluator{reader: reader}
}

func SummerizeConclusion(conclusions []Conclusion, defaultAllow bool) bool {
	result := UNSET
	for _, c := range conclusions {
		switch c {
		case ALLOW:
			return true
		case DENY:
			return false
		default:
			result = result.Or(c)
		}
	}
	if result == UNSET {
		return defaultAllow
	}
	return result == ALLOW
}

// Authorize validates req against the parent's sharing configuration and returns
// the fields the pairing may expose. It has no side effects.
func (e *Evaluator) Authorize(ctx context.Context, req Request) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Policy.Evaluator.Authorize")
	defer span.End()
	span.SetAttributes(
		attribute.String("ParentUID", req.ParentUID),
		attribute.String("ChildUID", req.ChildUID),
	)

	sharing, err := e.reader.LoadSharing(ctx, req.ParentUID)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "Evaluator.Authorize: reader.LoadSharing failed")
	}

	if !sharing.Enabled {
		return nil, domain.RejectionError{Code: domain.CodeParentNotShared, Field: domain.AttrParent}
	}

	allowed, err := e.evaluateRequester(ctx, sharing, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !allowed {
		return nil, domain.RejectionError{Code: domain.CodeUserNotAllowed, Field: domain.AttrParent}
	}

	eligible := sharing.Fields
	if len(eligible) == 0 {
		eligible, err = e.reader.LoadSchemaFields(ctx, req.ParentUID)
		if err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, "Evaluator.Authorize: reader.LoadSchemaFields failed")
		}
	}

	return ResolveFields(eligible, req.Fields)
}

func (e *Evaluator) evaluateRequester(ctx context.Context, sharing domain.DataSharing, req Request) (bool, error) {
	restricted := sharing.RestrictsUsers()
	conclusions := []Conclusion{}

	if restricted {
		if sharing.Lists(req.Requester) {
			conclusions = append(conclusions, ALLOW)
		} else {
			conclusions = append(conclusions, NG)

			manager, err := e.reader.HasManageCapability(ctx, req.Requester, req.ChildUID)
			if err != nil {
				return false, errors.Wrap(err, "Evaluator.evaluateRequester: reader.HasManageCapability failed")
			}
			if manager {
				conclusions = append(conclusions, ALLOW)
			}
		}
	}

	return SummerizeConclusion(conclusions, !restricted), nil
}

// ResolveFields checks requested against eligible. An empty request inherits every eligible field.
func ResolveFields(eligible, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return append([]string{}, eligible...), nil
	}

	resolved := make([]string, 0, len(requested))
	missing := []string{}
	for _, field := range requested {
		if !slices.Contains(eligible, field) {
			if !slices.Contains(missing, field) {
				missing = append(missing, field)
			}
			continue
		}
		if !slices.Contains(resolved, field) {
			resolved = append(resolved, field)
		}
	}

	if len(missing) > 0 {
		return nil, domain.RejectionError{
			Code:   domain.CodeInvalidFields,
			Field:  domain.AttrFields,
			Values: missing,
		}
	}
	return resolved, nil
}
