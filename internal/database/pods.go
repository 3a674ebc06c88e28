package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"podlog/internal/podlog"
)

// Pod operations

func (s *SQLiteDatabase) CreatePod(ctx context.Context, init podlog.PodInit) (*podlog.Pod, error) {
	pod := &podlog.Pod{
		Name:      init.Name,
		OwnerID:   init.OwnerID,
		CreatedAt: podlog.ChainTime(init.CreatedAt),
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO pods (name, owner_id, created_at) VALUES (?, ?, ?)",
			pod.Name, pod.OwnerID, toMillis(pod.CreatedAt))
		if isUniqueViolation(err, "pods.name") {
			return podlog.NewError(podlog.KindPodExists, "CreatePod", "pod %s already exists", init.Name)
		}
		if err != nil {
			return fmt.Errorf("inserting pod: %w", err)
		}

		configStream := &podlog.Stream{
			ID:        init.ConfigStreamID,
			PodName:   init.Name,
			Name:      podlog.ConfigStreamPath,
			Path:      podlog.ConfigStreamPath,
			UserID:    init.OwnerID,
			Access:    podlog.Private,
			CreatedAt: pod.CreatedAt,
		}
		ownerStream := &podlog.Stream{
			ID:        init.OwnerStreamID,
			PodName:   init.Name,
			ParentID:  init.ConfigStreamID,
			Name:      "owner",
			Path:      podlog.OwnerStreamPath,
			UserID:    init.OwnerID,
			Access:    podlog.Private,
			CreatedAt: pod.CreatedAt,
		}
		for _, st := range []*podlog.Stream{configStream, ownerStream} {
			if err := insertStream(ctx, tx, st); err != nil {
				return err
			}
		}

		record := podlog.SealRecord(ownerStream.ID, nil, init.OwnerRecord)
		return insertRecord(ctx, tx, record)
	})
	if err != nil {
		return nil, err
	}
	return pod, nil
}

func (s *SQLiteDatabase) GetPod(ctx context.Context, name string) (*podlog.Pod, error) {
	return getPod(ctx, s.db, "SELECT name, owner_id, created_at FROM pods WHERE name = ?", name)
}

func (s *SQLiteDatabase) GetPodByDomain(ctx context.Context, domain string) (*podlog.Pod, error) {
	return getPod(ctx, s.db, `
		SELECT p.name, p.owner_id, p.created_at
		FROM pods p JOIN pod_domains d ON d.pod_name = p.name
		WHERE d.domain = ?`, domain)
}

func getPod(ctx context.Context, q querier, query string, arg any) (*podlog.Pod, error) {
	var (
		pod       podlog.Pod
		createdAt int64
	)
	err := q.QueryRowContext(ctx, query, arg).Scan(&pod.Name, &pod.OwnerID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding pod: %w", err)
	}
	pod.CreatedAt = fromMillis(createdAt)

	domains, err := podDomains(ctx, q, pod.Name)
	if err != nil {
		return nil, err
	}
	pod.Domains = domains
	return &pod, nil
}

func podDomains(ctx context.Context, q querier, podName string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT domain FROM pod_domains WHERE pod_name = ? ORDER BY domain", podName)
	if err != nil {
		return nil, fmt.Errorf("listing pod domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scanning pod domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func (s *SQLiteDatabase) ListPodsByOwner(ctx context.Context, ownerID string) ([]*podlog.Pod, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM pods WHERE owner_id = ? ORDER BY name", ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning pod: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}

	pods := make([]*podlog.Pod, 0, len(names))
	for _, name := range names {
		pod, err := s.GetPod(ctx, name)
		if err != nil {
			return nil, err
		}
		if pod != nil {
			pods = append(pods, pod)
		}
	}
	return pods, nil
}

func (s *SQLiteDatabase) DeletePod(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM pods WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting pod: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return podlog.NewError(podlog.KindNotFound, "DeletePod", "pod %s", name)
	}
	return nil
}

func (s *SQLiteDatabase) TransferOwnership(ctx context.Context, podName, newOwnerID string, draft podlog.RecordDraft) (*podlog.Record, error) {
	owner, err := s.GetStreamByPath(ctx, podName, podlog.OwnerStreamPath)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, podlog.NewError(podlog.KindNotFound, "TransferOwnership", "pod %s has no owner stream", podName)
	}

	unlock, err := s.streamLocks.Lock(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("locking owner stream %s: %w", owner.ID, err)
	}
	defer unlock()

	var record *podlog.Record
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		head, err := streamHead(ctx, tx, owner.ID)
		if err != nil {
			return err
		}
		record = podlog.SealRecord(owner.ID, head, draft)
		if err := insertRecord(ctx, tx, record); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE pods SET owner_id = ? WHERE name = ?", newOwnerID, podName); err != nil {
			return fmt.Errorf("updating pod owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *SQLiteDatabase) SetPodDomains(ctx context.Context, podName string, domains []string) (removed, added []string, err error) {
	want := make(map[string]bool, len(domains))
	for _, d := range domains {
		want[d] = true
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := podDomains(ctx, tx, podName)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(current))
		for _, d := range current {
			have[d] = true
			if !want[d] {
				removed = append(removed, d)
			}
		}
		for d := range want {
			if !have[d] {
				added = append(added, d)
			}
		}
		sort.Strings(added)

		for _, d := range removed {
			if _, err := tx.ExecContext(ctx, "DELETE FROM pod_domains WHERE domain = ?", d); err != nil {
				return fmt.Errorf("removing domain %s: %w", d, err)
			}
		}
		for _, d := range added {
			_, err := tx.ExecContext(ctx, "INSERT INTO pod_domains (domain, pod_name) VALUES (?, ?)", d, podName)
			if isUniqueViolation(err, "pod_domains.domain") {
				return podlog.NewError(podlog.KindNameConflict, "SetPodDomains", "domain %s belongs to another pod", d)
			}
			if err != nil {
				return fmt.Errorf("adding domain %s: %w", d, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return removed, added, nil
}
