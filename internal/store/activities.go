package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const specColumns = "id, spec_key, name, description, api_endpoint, node_type, created_at, updated_at"

// InsertActivitySpec adds a node-kind definition to the static catalogue.
func (s *Store) InsertActivitySpec(ctx context.Context, specKey, name, description, apiEndpoint string, nodeType NodeType) (*ActivitySpec, error) {
	timestamp := nowTimestamp()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO activity_specs (spec_key, name, description, api_endpoint, node_type, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		specKey, name, description, apiEndpoint, nodeType, timestamp, timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert activity spec: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.getActivitySpec(ctx, id)
}

func (s *Store) getActivitySpec(ctx context.Context, id int64) (*ActivitySpec, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+specColumns+` FROM activity_specs WHERE id = ?`, id)
	spec, err := scanActivitySpec(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get activity spec: %w", err)
	}
	return spec, nil
}

// GetActivitySpecByKey fetches a spec by its stable key. Returns nil when absent.
func (s *Store) GetActivitySpecByKey(ctx context.Context, specKey string) (*ActivitySpec, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+specColumns+` FROM activity_specs WHERE spec_key = ?`, specKey)
	spec, err := scanActivitySpec(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get activity spec: %w", err)
	}
	return spec, nil
}

// ListActivitySpecs returns the catalogue in insertion order.
func (s *Store) ListActivitySpecs(ctx context.Context) ([]*ActivitySpec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+specColumns+` FROM activity_specs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list activity specs: %w", err)
	}
	defer rows.Close()

	var specs []*ActivitySpec
	for rows.Next() {
		spec, err := scanActivitySpec(rows)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

const instanceColumns = "id, instance_uid, project_id, spec_id, status, node_type, next_instance_ids, owner_id, payload, start_date, end_date, created_at, updated_at"

// NewInstance describes an activity instance to insert.
type NewInstance struct {
	ProjectID       int64
	SpecID          int64
	NodeType        NodeType
	Status          ActivityStatus
	NextInstanceIDs []string
	Payload         map[string]any
}

// InsertActivityInstance creates one workflow node instance.
func (s *Store) InsertActivityInstance(ctx context.Context, instance NewInstance) (*ActivityInstance, error) {
	var created *ActivityInstance
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		uid, err := insertInstanceTx(ctx, tx, instance)
		if err != nil {
			return err
		}
		created = &ActivityInstance{InstanceUID: uid}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetActivityInstance(ctx, created.InstanceUID)
}

func insertInstanceTx(ctx context.Context, tx *sql.Tx, instance NewInstance) (string, error) {
	status := instance.Status
	if status == "" {
		status = ActivityPending
	}
	nextJSON, err := marshalStringList(instance.NextInstanceIDs)
	if err != nil {
		return "", err
	}
	payloadJSON, err := marshalJSONMap(instance.Payload, true)
	if err != nil {
		return "", err
	}
	uid := uuid.NewString()
	timestamp := nowTimestamp()
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO activity_instances (instance_uid, project_id, spec_id, status, node_type, next_instance_ids, payload, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uid, instance.ProjectID, instance.SpecID, status, instance.NodeType, nextJSON, payloadJSON, timestamp, timestamp,
	); err != nil {
		return "", fmt.Errorf("insert activity instance: %w", err)
	}
	return uid, nil
}

// BuildChain inserts a linear chain of instances in one transaction, wiring
// each node's next_instance_ids to the singleton list of its successor.
// Returns the instance UIDs in chain order.
func (s *Store) BuildChain(ctx context.Context, nodes []NewInstance) ([]string, error) {
	uids := make([]string, 0, len(nodes))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, node := range nodes {
			uid, err := insertInstanceTx(ctx, tx, node)
			if err != nil {
				return err
			}
			uids = append(uids, uid)
		}
		for i := 0; i+1 < len(uids); i++ {
			nextJSON, err := marshalStringList([]string{uids[i+1]})
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE activity_instances SET next_instance_ids = ?, updated_at = ? WHERE instance_uid = ?`,
				nextJSON, nowTimestamp(), uids[i],
			); err != nil {
				return fmt.Errorf("link chain node: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uids, nil
}

// GetActivityInstance fetches an instance by UID. Returns nil when absent.
func (s *Store) GetActivityInstance(ctx context.Context, uid string) (*ActivityInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM activity_instances WHERE instance_uid = ?`, uid)
	instance, err := scanActivityInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get activity instance: %w", err)
	}
	return instance, nil
}

// ListActivityInstances returns a project's instances in creation order.
func (s *Store) ListActivityInstances(ctx context.Context, projectID int64) ([]*ActivityInstance, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+instanceColumns+` FROM activity_instances WHERE project_id = ? ORDER BY created_at, id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list activity instances: %w", err)
	}
	defer rows.Close()

	var instances []*ActivityInstance
	for rows.Next() {
		instance, err := scanActivityInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// CountActivityInstances counts a project's workflow nodes.
func (s *Store) CountActivityInstances(ctx context.Context, projectID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM activity_instances WHERE project_id = ?`,
		projectID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count activity instances: %w", err)
	}
	return count, nil
}

// NodeUpdate carries the mutable fields of a node transition.
type NodeUpdate struct {
	UID     string
	OwnerID *int64
	Payload map[string]any
}

// TransitionOutcome reports how a node transition resolved.
type TransitionOutcome int

const (
	// TransitionApplied means the node moved to the requested status.
	TransitionApplied TransitionOutcome = iota
	// TransitionNotFound means no instance carries the UID.
	TransitionNotFound
	// TransitionTerminal means the node had already reached a terminal
	// status.
	TransitionTerminal
)

// TriggerInstance moves a node to in_progress, recording its start time once
// and merging supplied payload keys over the stored payload.
func (s *Store) TriggerInstance(ctx context.Context, update NodeUpdate) (TransitionOutcome, error) {
	return s.transitionInstance(ctx, update, ActivityInProgress, true, false)
}

// CompleteInstance moves a node to completed, recording its end time and
// merging payload keys.
func (s *Store) CompleteInstance(ctx context.Context, update NodeUpdate) (TransitionOutcome, error) {
	return s.transitionInstance(ctx, update, ActivityCompleted, false, true)
}

// SkipInstance moves a node to skipped from any non-terminal status.
func (s *Store) SkipInstance(ctx context.Context, uid string) (TransitionOutcome, error) {
	return s.transitionInstance(ctx, NodeUpdate{UID: uid}, ActivitySkipped, false, true)
}

func (s *Store) transitionInstance(ctx context.Context, update NodeUpdate, to ActivityStatus, setStart, setEnd bool) (TransitionOutcome, error) {
	outcome := TransitionNotFound
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			id         int64
			statusStr  string
			payloadRaw sql.NullString
			startRaw   sql.NullString
		)
		err := tx.QueryRowContext(
			ctx,
			`SELECT id, status, payload, start_date FROM activity_instances WHERE instance_uid = ?`,
			update.UID,
		).Scan(&id, &statusStr, &payloadRaw, &startRaw)
		if errors.Is(err, sql.ErrNoRows) {
			outcome = TransitionNotFound
			return nil
		}
		if err != nil {
			return fmt.Errorf("read activity instance: %w", err)
		}
		if ActivityStatus(statusStr).IsTerminal() {
			outcome = TransitionTerminal
			return nil
		}

		payload, err := unmarshalJSONMap(payloadRaw)
		if err != nil {
			return err
		}
		if payload == nil {
			payload = map[string]any{}
		}
		for key, value := range update.Payload {
			payload[key] = value
		}
		payloadJSON, err := marshalJSONMap(payload, true)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		nowStr := formatTime(now)
		query := `UPDATE activity_instances SET status = ?, payload = ?, updated_at = ?`
		args := []any{to, payloadJSON, nowStr}
		if setStart && !startRaw.Valid {
			query += `, start_date = ?`
			args = append(args, nowStr)
		}
		if setEnd {
			query += `, end_date = ?`
			args = append(args, nowStr)
		}
		if update.OwnerID != nil {
			query += `, owner_id = ?`
			args = append(args, *update.OwnerID)
		}
		query += ` WHERE id = ?`
		args = append(args, id)

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("transition activity instance: %w", err)
		}
		outcome = TransitionApplied
		return nil
	})
	if err != nil {
		return TransitionNotFound, err
	}
	return outcome, nil
}

func scanActivitySpec(scanner rowScanner) (*ActivitySpec, error) {
	var (
		id          int64
		specKey     string
		name        string
		description string
		apiEndpoint string
		nodeType    string
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(&id, &specKey, &name, &description, &apiEndpoint, &nodeType, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	spec := &ActivitySpec{
		ID:          id,
		SpecKey:     specKey,
		Name:        name,
		Description: description,
		APIEndpoint: apiEndpoint,
		NodeType:    NodeType(nodeType),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		spec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		spec.UpdatedAt = updated
	}
	return spec, nil
}

func scanActivityInstance(scanner rowScanner) (*ActivityInstance, error) {
	var (
		id         int64
		uid        string
		projectID  int64
		specID     int64
		statusStr  string
		nodeType   string
		nextRaw    string
		ownerID    sql.NullInt64
		payloadRaw sql.NullString
		startRaw   sql.NullString
		endRaw     sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&id, &uid, &projectID, &specID, &statusStr, &nodeType, &nextRaw,
		&ownerID, &payloadRaw, &startRaw, &endRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	next, err := unmarshalStringList(nextRaw)
	if err != nil {
		return nil, err
	}
	payload, err := unmarshalJSONMap(payloadRaw)
	if err != nil {
		return nil, err
	}
	instance := &ActivityInstance{
		ID:              id,
		InstanceUID:     uid,
		ProjectID:       projectID,
		SpecID:          specID,
		Status:          ActivityStatus(statusStr),
		NodeType:        NodeType(nodeType),
		NextInstanceIDs: next,
		OwnerID:         intPtr(ownerID),
		Payload:         payload,
	}
	instance.StartDate = timePtr(startRaw)
	instance.EndDate = timePtr(endRaw)
	if created, err := parseTimeString(createdRaw); err == nil {
		instance.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		instance.UpdatedAt = updated
	}
	return instance, nil
}
