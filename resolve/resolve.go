// Package resolve binds incoming deposit events to the user that owns the
// destination address. Resolution never guesses: an ambiguous match fails
// closed so a deposit is missed rather than credited to the wrong account.
package resolve

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/coinhaven/depositd/core"
)

type Resolver struct {
	directory core.AddressDirectory
	logger    core.Logger
}

func New(directory core.AddressDirectory, logger core.Logger) (*Resolver, error) {
	if directory == nil {
		return nil, fmt.Errorf("resolve: address directory is required")
	}
	return &Resolver{
		directory: directory,
		logger:    glog.Ensure(logger),
	}, nil
}

// Resolve maps an event's destination to exactly one owning user.
// With a memo present, an exact tag match outranks a tag-less legacy
// address; without one, the address must belong to a single user.
func (r *Resolver) Resolve(ctx context.Context, event core.NormalizedEvent) (core.ResolvedAddress, error) {
	if r == nil {
		return core.ResolvedAddress{}, fmt.Errorf("resolve: resolver is not initialized")
	}
	if event.Address == "" {
		return core.ResolvedAddress{}, unresolved("event address is required")
	}

	if event.Memo != "" {
		return r.resolveWithMemo(ctx, event)
	}

	matches, err := r.directory.ActiveByAddress(ctx, event.Address)
	if err != nil {
		return core.ResolvedAddress{}, fmt.Errorf("resolve: address lookup failed: %w", err)
	}
	switch len(matches) {
	case 0:
		return core.ResolvedAddress{}, unresolved("no active deposit address matches")
	case 1:
		return resolvedFrom(matches[0]), nil
	default:
		r.logger.WithContext(ctx).Warn("ambiguous address resolution, failing closed",
			"address", event.Address,
			"matches", len(matches),
		)
		return core.ResolvedAddress{}, unresolved("address matches multiple users")
	}
}

func (r *Resolver) resolveWithMemo(ctx context.Context, event core.NormalizedEvent) (core.ResolvedAddress, error) {
	validation := ValidateMemo(event.Chain, event.Memo)
	if !validation.IsValid {
		r.logger.WithContext(ctx).Warn("rejected memo during resolution",
			"address", event.Address,
			"chain", event.Chain,
			"reason", validation.RejectionReason,
		)
		return core.ResolvedAddress{}, unresolved("invalid memo: " + validation.RejectionReason)
	}

	tagged, err := r.directory.ActiveByAddressAndTag(ctx, event.Address, validation.Sanitized)
	if err != nil {
		return core.ResolvedAddress{}, fmt.Errorf("resolve: tagged address lookup failed: %w", err)
	}
	if len(tagged) == 1 {
		return resolvedFrom(tagged[0]), nil
	}
	if len(tagged) > 1 {
		r.logger.WithContext(ctx).Warn("ambiguous tagged resolution, failing closed",
			"address", event.Address,
			"tag", validation.Sanitized,
			"matches", len(tagged),
		)
		return core.ResolvedAddress{}, unresolved("destination tag matches multiple users")
	}

	// No exact tag match: a single-tenant legacy address with no tag
	// configured can still claim the deposit.
	matches, err := r.directory.ActiveByAddress(ctx, event.Address)
	if err != nil {
		return core.ResolvedAddress{}, fmt.Errorf("resolve: address lookup failed: %w", err)
	}
	untagged := make([]core.DepositAddress, 0, len(matches))
	for _, match := range matches {
		if match.DestinationTag == nil {
			untagged = append(untagged, match)
		}
	}
	switch len(untagged) {
	case 0:
		return core.ResolvedAddress{}, unresolved("no deposit address matches the destination tag")
	case 1:
		return resolvedFrom(untagged[0]), nil
	default:
		r.logger.WithContext(ctx).Warn("ambiguous untagged fallback, failing closed",
			"address", event.Address,
			"matches", len(untagged),
		)
		return core.ResolvedAddress{}, unresolved("address matches multiple untagged users")
	}
}

func resolvedFrom(address core.DepositAddress) core.ResolvedAddress {
	resolved := core.ResolvedAddress{
		UserID:  address.UserID,
		Asset:   address.Asset,
		Chain:   address.Chain,
		Network: address.Network,
	}
	if address.DestinationTag != nil {
		resolved.DestinationTag = *address.DestinationTag
	}
	return resolved
}

func unresolved(message string) error {
	return goerrors.New("resolve: unresolved deposit address: "+message, goerrors.CategoryValidation).
		WithTextCode(core.ErrorCodeAddressUnresolved)
}
