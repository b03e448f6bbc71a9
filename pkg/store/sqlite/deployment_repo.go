package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	rerrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
)

// DeploymentRepo implements [store.DeploymentRepository] backed by SQLite.
type DeploymentRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

var _ store.DeploymentRepository = (*DeploymentRepo)(nil)

const deploymentColumns = `d.id, d.workspace_id, d.name, d.registry_kind, d.registry, d.repository_id,
	d.image_name, d.image_tag, d.status, d.region, d.machine_type, m.cpu_count, m.memory_count,
	d.min_horizontal_scale, d.max_horizontal_scale, d.deploy_on_push,
	d.startup_probe_port, d.startup_probe_path, d.liveness_probe_port, d.liveness_probe_path,
	d.current_live_digest, d.domain_name, d.domain_verified, d.updated_at`

const deploymentFrom = ` FROM deployment d JOIN deployment_machine_type m ON m.id = d.machine_type`

func (r *DeploymentRepo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *DeploymentRepo) Create(ctx context.Context, d *types.Deployment) error {
	if d.Status == "" {
		d.Status = types.DeploymentStatusCreated
	}
	d.UpdatedAt = r.now()

	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO deployment (id, workspace_id, name, registry_kind, registry, repository_id,
				image_name, image_tag, status, region, machine_type, min_horizontal_scale,
				max_horizontal_scale, deploy_on_push, startup_probe_port, startup_probe_path,
				liveness_probe_port, liveness_probe_path, current_live_digest, domain_name,
				domain_verified, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append([]any{d.ID.String(), d.WorkspaceID.String()}, specColumns(d)...)...,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("deployment %s: %w", d.ID, store.ErrAlreadyExists)
			}
			return fmt.Errorf("insert deployment: %w", err)
		}
		return insertChildren(ctx, tx, d)
	})
}

func (r *DeploymentRepo) Update(ctx context.Context, d *types.Deployment) error {
	d.UpdatedAt = r.now()

	return r.inTx(ctx, func(tx *sql.Tx) error {
		args := append(specColumns(d), d.ID.String())
		res, err := tx.ExecContext(ctx,
			`UPDATE deployment
			 SET name = ?, registry_kind = ?, registry = ?, repository_id = ?, image_name = ?, image_tag = ?,
			     status = ?, region = ?, machine_type = ?, min_horizontal_scale = ?,
			     max_horizontal_scale = ?, deploy_on_push = ?, startup_probe_port = ?,
			     startup_probe_path = ?, liveness_probe_port = ?, liveness_probe_path = ?,
			     current_live_digest = ?, domain_name = ?, domain_verified = ?, updated_at = ?
			 WHERE id = ? AND deleted = 0`,
			args...,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("custom domain of %s: %w", d.ID, store.ErrAlreadyExists)
			}
			return fmt.Errorf("update deployment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("deployment %s: %w", d.ID, rerrors.ErrNotFound)
		}
		for _, table := range []string{
			"deployment_environment_variable",
			"deployment_exposed_port",
			"deployment_config_mount",
			"deployment_volume",
		} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE deployment_id = ?`, d.ID.String()); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return insertChildren(ctx, tx, d)
	})
}

func (r *DeploymentRepo) Delete(ctx context.Context, id types.ResourceID) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE deployment SET status = ?, deleted = 1, updated_at = ? WHERE id = ?`,
		string(types.DeploymentStatusDeleted), formatTime(r.now()), id.String(),
	)
	if err != nil {
		return fmt.Errorf("delete deployment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deployment %s: %w", id, rerrors.ErrNotFound)
	}
	return nil
}

func (r *DeploymentRepo) Get(ctx context.Context, id types.ResourceID) (*types.Deployment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+deploymentColumns+deploymentFrom+` WHERE d.id = ?`, id.String())
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment %s: %w", id, rerrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := loadChildren(ctx, r.DB, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DeploymentRepo) List(ctx context.Context) ([]*types.Deployment, error) {
	return r.list(ctx, `SELECT `+deploymentColumns+deploymentFrom+` ORDER BY d.id`)
}

func (r *DeploymentRepo) ListByImage(ctx context.Context, registry, image, tag string) ([]*types.Deployment, error) {
	return r.list(ctx,
		`SELECT `+deploymentColumns+deploymentFrom+`
		 WHERE d.registry = ? AND d.image_name = ? AND d.image_tag = ? AND d.deleted = 0
		 ORDER BY d.id`,
		registry, image, tag,
	)
}

func (r *DeploymentRepo) list(ctx context.Context, query string, args ...any) ([]*types.Deployment, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}

	var deployments []*types.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// children are loaded after the cursor is closed; an in-memory db has a single connection
	for _, d := range deployments {
		if err := loadChildren(ctx, r.DB, d); err != nil {
			return nil, err
		}
	}
	return deployments, nil
}

func (r *DeploymentRepo) UpdateStatus(ctx context.Context, id types.ResourceID, status types.DeploymentStatus) error {
	if !status.Valid() {
		return rerrors.WrapPermanentConfig(fmt.Errorf("unknown status %q", status))
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE deployment SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(r.now()), id.String(),
	)
	if err != nil {
		return fmt.Errorf("update deployment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deployment %s: %w", id, rerrors.ErrNotFound)
	}
	return nil
}

func (r *DeploymentRepo) RecordDigest(ctx context.Context, id types.ResourceID, digest string) error {
	now := formatTime(r.now())
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE deployment SET current_live_digest = ?, updated_at = ? WHERE id = ?`,
			digest, now, id.String(),
		)
		if err != nil {
			return fmt.Errorf("set live digest: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("deployment %s: %w", id, rerrors.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deployment_deploy_history (deployment_id, image_digest, created) VALUES (?, ?, ?)`,
			id.String(), digest, now,
		); err != nil {
			return fmt.Errorf("record deploy history: %w", err)
		}
		return nil
	})
}

// DigestHistory returns every digest recorded for id, oldest first
func (r *DeploymentRepo) DigestHistory(ctx context.Context, id types.ResourceID) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT image_digest FROM deployment_deploy_history WHERE deployment_id = ? ORDER BY rowid`,
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list deploy history: %w", err)
	}
	defer rows.Close()

	var digests []string
	for rows.Next() {
		var digest string
		if err := rows.Scan(&digest); err != nil {
			return nil, err
		}
		digests = append(digests, digest)
	}
	return digests, rows.Err()
}

func (r *DeploymentRepo) MachineType(ctx context.Context, id types.ResourceID) (*types.MachineType, error) {
	mt := &types.MachineType{ID: id}
	err := r.DB.QueryRowContext(ctx,
		`SELECT cpu_count, memory_count FROM deployment_machine_type WHERE id = ?`, id.String(),
	).Scan(&mt.CPUCount, &mt.MemoryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("machine type %s: %w", id, rerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get machine type: %w", err)
	}
	return mt, nil
}

func (r *DeploymentRepo) CountByStatus(ctx context.Context) (map[types.DeploymentStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM deployment GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count deployments: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.DeploymentStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[types.DeploymentStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *DeploymentRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// specColumns returns the insert values after id and workspace_id, starting with name
func specColumns(d *types.Deployment) []any {
	s := &d.Spec
	var repositoryID sql.NullString
	if s.Registry.RepositoryID != nil {
		repositoryID = sql.NullString{String: s.Registry.RepositoryID.String(), Valid: true}
	}
	startupPort, startupPath := probeColumns(s.StartupProbe)
	livenessPort, livenessPath := probeColumns(s.LivenessProbe)
	var domain sql.NullString
	var verified bool
	if s.CustomDomain != nil {
		domain = sql.NullString{String: s.CustomDomain.Name, Valid: true}
		verified = s.CustomDomain.Verified
	}

	return []any{
		s.Name,
		string(s.Registry.Kind),
		s.Registry.Registry,
		repositoryID,
		s.Registry.ImageName,
		s.ImageTag,
		string(d.Status),
		s.Region,
		s.MachineType.ID.String(),
		s.MinHorizontalScale,
		s.MaxHorizontalScale,
		s.DeployOnPush,
		startupPort,
		startupPath,
		livenessPort,
		livenessPath,
		nullString(d.CurrentLiveDigest),
		domain,
		verified,
		formatTime(d.UpdatedAt),
	}
}

func probeColumns(p *types.Probe) (sql.NullInt64, sql.NullString) {
	if p == nil {
		return sql.NullInt64{}, sql.NullString{}
	}
	return sql.NullInt64{Int64: int64(p.Port), Valid: true}, sql.NullString{String: p.Path, Valid: true}
}

func insertChildren(ctx context.Context, q queryer, d *types.Deployment) error {
	id := d.ID.String()
	for name, env := range d.Spec.EnvironmentVariables {
		var value, secret sql.NullString
		if env.Value != nil {
			value = sql.NullString{String: *env.Value, Valid: true}
		}
		if env.FromSecret != nil {
			secret = sql.NullString{String: env.FromSecret.String(), Valid: true}
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO deployment_environment_variable (deployment_id, name, value, secret_id) VALUES (?, ?, ?, ?)`,
			id, name, value, secret,
		); err != nil {
			return fmt.Errorf("insert environment variable %s: %w", name, err)
		}
	}
	for port, pt := range d.Spec.Ports {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO deployment_exposed_port (deployment_id, port, port_type) VALUES (?, ?, ?)`,
			id, int(port), string(pt),
		); err != nil {
			return fmt.Errorf("insert port %d: %w", port, err)
		}
	}
	for path, file := range d.Spec.ConfigMounts {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO deployment_config_mount (deployment_id, path, file) VALUES (?, ?, ?)`,
			id, path, file,
		); err != nil {
			return fmt.Errorf("insert config mount %s: %w", path, err)
		}
	}
	for volID, vol := range d.Spec.Volumes {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO deployment_volume (id, deployment_id, path, size) VALUES (?, ?, ?, ?)`,
			volID.String(), id, vol.Path, vol.Size,
		); err != nil {
			return fmt.Errorf("insert volume %s: %w", volID, err)
		}
	}
	return nil
}

func loadChildren(ctx context.Context, q queryer, d *types.Deployment) error {
	id := d.ID.String()
	s := &d.Spec

	rows, err := q.QueryContext(ctx,
		`SELECT name, value, secret_id FROM deployment_environment_variable WHERE deployment_id = ?`, id)
	if err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	err = eachRow(rows, func() error {
		var name string
		var value, secret sql.NullString
		if err := rows.Scan(&name, &value, &secret); err != nil {
			return err
		}
		var env types.EnvironmentVariable
		if value.Valid {
			v := value.String
			env.Value = &v
		}
		if secret.Valid {
			sid, err := uuid.Parse(secret.String)
			if err != nil {
				return fmt.Errorf("environment variable %s: %w", name, err)
			}
			env.FromSecret = &sid
		}
		if s.EnvironmentVariables == nil {
			s.EnvironmentVariables = make(map[string]types.EnvironmentVariable)
		}
		s.EnvironmentVariables[name] = env
		return nil
	})
	if err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx,
		`SELECT port, port_type FROM deployment_exposed_port WHERE deployment_id = ?`, id)
	if err != nil {
		return fmt.Errorf("load ports: %w", err)
	}
	s.Ports = make(map[uint16]types.PortType)
	err = eachRow(rows, func() error {
		var port int
		var pt string
		if err := rows.Scan(&port, &pt); err != nil {
			return err
		}
		s.Ports[uint16(port)] = types.PortType(pt)
		return nil
	})
	if err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx,
		`SELECT path, file FROM deployment_config_mount WHERE deployment_id = ?`, id)
	if err != nil {
		return fmt.Errorf("load config mounts: %w", err)
	}
	err = eachRow(rows, func() error {
		var path string
		var file []byte
		if err := rows.Scan(&path, &file); err != nil {
			return err
		}
		if s.ConfigMounts == nil {
			s.ConfigMounts = make(map[string][]byte)
		}
		s.ConfigMounts[path] = file
		return nil
	})
	if err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx,
		`SELECT id, path, size FROM deployment_volume WHERE deployment_id = ?`, id)
	if err != nil {
		return fmt.Errorf("load volumes: %w", err)
	}
	return eachRow(rows, func() error {
		var volID string
		var vol types.Volume
		if err := rows.Scan(&volID, &vol.Path, &vol.Size); err != nil {
			return err
		}
		parsed, err := uuid.Parse(volID)
		if err != nil {
			return fmt.Errorf("volume id %q: %w", volID, err)
		}
		if s.Volumes == nil {
			s.Volumes = make(map[uuid.UUID]types.Volume)
		}
		s.Volumes[parsed] = vol
		return nil
	})
}

func eachRow(rows *sql.Rows, fn func() error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(); err != nil {
			return err
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(s scanner) (*types.Deployment, error) {
	var (
		d                             types.Deployment
		id, workspaceID, kind, status string
		machineType, updatedAt        string
		repositoryID, digest, domain  sql.NullString
		domainVerified                bool
		startupPort, livenessPort     sql.NullInt64
		startupPath, livenessPath     sql.NullString
	)
	err := s.Scan(
		&id, &workspaceID, &d.Spec.Name, &kind, &d.Spec.Registry.Registry, &repositoryID,
		&d.Spec.Registry.ImageName, &d.Spec.ImageTag, &status, &d.Spec.Region, &machineType,
		&d.Spec.MachineType.CPUCount, &d.Spec.MachineType.MemoryCount,
		&d.Spec.MinHorizontalScale, &d.Spec.MaxHorizontalScale, &d.Spec.DeployOnPush,
		&startupPort, &startupPath, &livenessPort, &livenessPath,
		&digest, &domain, &domainVerified, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan deployment: %w", err)
	}

	if d.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("deployment id %q: %w", id, err)
	}
	if d.WorkspaceID, err = uuid.Parse(workspaceID); err != nil {
		return nil, fmt.Errorf("workspace id %q: %w", workspaceID, err)
	}
	if d.Spec.MachineType.ID, err = uuid.Parse(machineType); err != nil {
		return nil, fmt.Errorf("machine type %q: %w", machineType, err)
	}
	if repositoryID.Valid {
		rid, err := uuid.Parse(repositoryID.String)
		if err != nil {
			return nil, fmt.Errorf("repository id %q: %w", repositoryID.String, err)
		}
		d.Spec.Registry.RepositoryID = &rid
	}
	d.Spec.Registry.Kind = types.RegistryKind(kind)
	d.Status = types.DeploymentStatus(status)
	d.CurrentLiveDigest = digest.String
	d.UpdatedAt = parseTime(updatedAt)
	if startupPort.Valid {
		d.Spec.StartupProbe = &types.Probe{Port: uint16(startupPort.Int64), Path: startupPath.String}
	}
	if livenessPort.Valid {
		d.Spec.LivenessProbe = &types.Probe{Port: uint16(livenessPort.Int64), Path: livenessPath.String}
	}
	if domain.Valid {
		d.Spec.CustomDomain = &types.CustomDomain{Name: domain.String, Verified: domainVerified}
	}
	return &d, nil
}
