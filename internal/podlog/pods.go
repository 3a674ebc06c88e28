package podlog

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// CreatePod creates a pod owned by the caller, along with its private .config
// and .config/owner streams and the first owner record.
func (s *Service) CreatePod(ctx context.Context, caller Caller, name string) (*Pod, error) {
	const op = "CreatePod"
	if caller.Anonymous() {
		return nil, newError(KindForbidden, op, "authentication required")
	}
	if err := ValidatePodName(name); err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: op, Err: err}
	}
	if err := s.rateLimit(ctx, caller, ActionPodCreate); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	content, err := json.Marshal(OwnerRecord{ID: caller.UserID})
	if err != nil {
		return nil, internalError(op, err)
	}
	now := s.clock.Now()
	pod, err := s.database.CreatePod(ctx, PodInit{
		Name:           name,
		OwnerID:        caller.UserID,
		CreatedAt:      now,
		ConfigStreamID: s.idgen.New(),
		OwnerStreamID:  s.idgen.New(),
		OwnerRecord: RecordDraft{
			ID:          s.idgen.New(),
			Content:     content,
			ContentType: "application/json",
			UserID:      caller.UserID,
			CreatedAt:   now,
		},
	})
	if err != nil {
		return nil, internalError(op, err)
	}

	s.cacheDelete(ctx, podKey(name), podOwnerKey(name), ownedPodsKey(caller.UserID))
	s.logger.Info("pod created", "pod", name, "owner", caller.UserID)
	return pod, nil
}

// GetPod returns the pod named name.
func (s *Service) GetPod(ctx context.Context, name string) (*Pod, error) {
	const op = "GetPod"
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pod, err := readThrough(ctx, s, familyPod, podKey(name), func(ctx context.Context) (*Pod, error) {
		return s.database.GetPod(ctx, name)
	})
	return notFoundIfNil(pod, err, op, "pod %s", name)
}

// ResolveHost maps a request host to a pod. <pod>.<base domain> addresses a
// pod directly; any other host is looked up as a custom domain.
func (s *Service) ResolveHost(ctx context.Context, host string) (*Pod, error) {
	const op = "ResolveHost"
	host = normalizeDomain(host)
	if host == "" {
		return nil, newError(KindInvalidInput, op, "empty host")
	}
	if base := normalizeDomain(s.opts.BaseDomain); base != "" && strings.HasSuffix(host, "."+base) {
		name := strings.TrimSuffix(host, "."+base)
		if ValidatePodName(name) == nil {
			return s.GetPod(ctx, name)
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	pod, err := readThrough(ctx, s, familyDomain, domainKey(host), func(ctx context.Context) (*Pod, error) {
		return s.database.GetPodByDomain(ctx, host)
	})
	return notFoundIfNil(pod, err, op, "no pod serves %s", host)
}

// DeletePod removes a pod and everything in it. Owner only.
func (s *Service) DeletePod(ctx context.Context, caller Caller, name string) error {
	const op = "DeletePod"
	if err := s.rateLimit(ctx, caller, ActionWrite); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pod, err := s.loadPod(ctx, op, name)
	if err != nil {
		return err
	}
	if err := s.requireOwner(ctx, op, caller, name); err != nil {
		return err
	}
	if err := s.database.DeletePod(ctx, name); err != nil {
		return internalError(op, err)
	}

	s.cacheDelete(ctx, podKey(name), podOwnerKey(name), ownedPodsKey(pod.OwnerID), ownedPodsKey(caller.UserID))
	for _, d := range pod.Domains {
		s.cacheDelete(ctx, domainKey(d))
	}
	s.cacheDeletePattern(ctx,
		familyStream+":"+name+":*",
		familyChildren+":"+name+":*",
	)
	s.logger.Info("pod deleted", "pod", name)
	return nil
}

// TransferOwnership appends an owner record naming newOwner and updates the
// pod's denormalized owner. Owner only.
func (s *Service) TransferOwnership(ctx context.Context, caller Caller, name, newOwner string) (*Record, error) {
	const op = "TransferOwnership"
	if newOwner == "" {
		return nil, newError(KindInvalidInput, op, "new owner is empty")
	}
	if err := s.rateLimit(ctx, caller, ActionWrite); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pod, err := s.loadPod(ctx, op, name)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, op, caller, name); err != nil {
		return nil, err
	}

	content, err := json.Marshal(OwnerRecord{ID: newOwner})
	if err != nil {
		return nil, internalError(op, err)
	}
	record, err := s.database.TransferOwnership(ctx, name, newOwner, RecordDraft{
		ID:          s.idgen.New(),
		Content:     content,
		ContentType: "application/json",
		UserID:      caller.UserID,
		CreatedAt:   s.clock.Now(),
	})
	if err != nil {
		return nil, internalError(op, err)
	}

	s.cacheDelete(ctx,
		podKey(name),
		podOwnerKey(name),
		ownedPodsKey(pod.OwnerID),
		ownedPodsKey(caller.UserID),
		ownedPodsKey(newOwner),
	)
	for _, d := range pod.Domains {
		s.cacheDelete(ctx, domainKey(d))
	}
	s.cacheDeletePattern(ctx, recordListPattern(record.StreamID()))
	s.logger.Info("pod ownership transferred", "pod", name, "from", pod.OwnerID, "to", newOwner)
	return record, nil
}

// SetDomains replaces the pod's custom domains. Owner only.
func (s *Service) SetDomains(ctx context.Context, caller Caller, name string, domains []string) (*Pod, error) {
	const op = "SetDomains"
	normalized := make([]string, 0, len(domains))
	seen := make(map[string]bool)
	for _, d := range domains {
		d = normalizeDomain(d)
		if d == "" || strings.ContainsAny(d, "/ ") {
			return nil, newError(KindInvalidInput, op, "invalid domain %q", d)
		}
		if !seen[d] {
			seen[d] = true
			normalized = append(normalized, d)
		}
	}
	sort.Strings(normalized)

	if err := s.rateLimit(ctx, caller, ActionWrite); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.loadPod(ctx, op, name); err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, op, caller, name); err != nil {
		return nil, err
	}

	removed, added, err := s.database.SetPodDomains(ctx, name, normalized)
	if err != nil {
		return nil, internalError(op, err)
	}
	for _, d := range append(removed, added...) {
		s.cacheDelete(ctx, domainKey(d))
	}
	s.cacheDelete(ctx, podKey(name))
	s.logger.Info("pod domains updated", "pod", name, "removed", len(removed), "added", len(added))

	pod, err := s.database.GetPod(ctx, name)
	if err != nil {
		return nil, internalError(op, err)
	}
	return pod, nil
}

// ListOwnedPods returns the pods whose owner is userID.
func (s *Service) ListOwnedPods(ctx context.Context, userID string) ([]*Pod, error) {
	const op = "ListOwnedPods"
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pods, err := readThrough(ctx, s, familyOwnedPods, ownedPodsKey(userID), func(ctx context.Context) (*[]*Pod, error) {
		pods, err := s.database.ListPodsByOwner(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &pods, nil
	})
	if err != nil {
		return nil, internalError(op, err)
	}
	return *pods, nil
}

// PodOwner returns the pod's owner for display. Authorization decisions read
// the owner stream directly instead.
func (s *Service) PodOwner(ctx context.Context, name string) (string, error) {
	const op = "PodOwner"
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	owner, err := readThrough(ctx, s, familyPodOwner, podOwnerKey(name), func(ctx context.Context) (*OwnerRecord, error) {
		id, err := s.permissions.PodOwner(ctx, name)
		if err != nil || id == "" {
			return nil, err
		}
		return &OwnerRecord{ID: id}, nil
	})
	if err != nil {
		return "", internalError(op, err)
	}
	if owner == nil {
		return "", newError(KindNotFound, op, "pod %s has no owner", name)
	}
	return owner.ID, nil
}

// loadPod reads a pod from the store, bypassing the cache.
func (s *Service) loadPod(ctx context.Context, op, name string) (*Pod, error) {
	pod, err := s.database.GetPod(ctx, name)
	return notFoundIfNil(pod, err, op, "pod %s", name)
}

func normalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return strings.TrimSuffix(host, ".")
}
