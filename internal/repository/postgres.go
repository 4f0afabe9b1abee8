package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore runs transactions on PostgreSQL. Row locks are taken with
// SELECT … FOR UPDATE, so a second transaction asking for the same row waits
// until the first one commits or rolls back.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return classify(err, "apply schema")
	}
	return nil
}

// WithinTx runs fn in one database transaction, committing only when fn
// returns nil.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classify(err, "begin transaction")
	}
	// Rollback after Commit is a no-op. The detached context lets it run
	// even when ctx is what aborted the transaction.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err, "commit transaction")
	}
	return nil
}

// classify maps driver errors onto the package sentinels while keeping the
// original error in the chain.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w: %w", what, ErrDuplicate, err)
		case "23503", "23514": // foreign_key_violation, check_violation
			return fmt.Errorf("%s: %w: %w", what, ErrConstraint, err)
		}
	}
	// Deadlocks (40P01), serialization failures (40001), lock timeouts
	// (55P03), cancelled statements (57014), connection loss (08xxx) and
	// context expiry all abort the transaction.
	return fmt.Errorf("%s: %w: %w", what, ErrStoreUnavailable, err)
}

type pgTx struct {
	tx pgx.Tx
}

const (
	resourceColumns = `id, organisation_id, resource_type, name, stock, deleted`
	activityColumns = `id, organisation_id, name, stock, deleted`
	eventColumns    = `id, activity_id, planning_id, date_start, date_stop, stock`
	flexiColumns    = `id, user_id, reservation_type_id, event_id, created_at`
)

func scanResource(row pgx.Row) (*model.Resource, error) {
	var r model.Resource
	err := row.Scan(&r.ID, &r.OrganisationID, &r.ResourceType, &r.Name, &r.Stock, &r.Deleted)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanActivity(row pgx.Row) (*model.Activity, error) {
	var a model.Activity
	if err := row.Scan(&a.ID, &a.OrganisationID, &a.Name, &a.Stock, &a.Deleted); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	if err := row.Scan(&e.ID, &e.ActivityID, &e.PlanningID, &e.DateStart, &e.DateStop, &e.Stock); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanFlexi(row pgx.Row) (*model.FlexiReservation, error) {
	var f model.FlexiReservation
	if err := row.Scan(&f.ID, &f.UserID, &f.ReservationTypeID, &f.EventID, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func allocationTable(kind model.AllocationKind) (table, container string, err error) {
	switch kind {
	case model.ActivityAllocation:
		return "activity_resources", "activity_id", nil
	case model.FlexiAllocation:
		return "flexi_reservation_resources", "flexi_reservation_id", nil
	default:
		return "", "", fmt.Errorf("allocation kind %d: %w", kind, ErrConstraint)
	}
}

func (t *pgTx) LockResource(ctx context.Context, id string) (*model.Resource, error) {
	r, err := scanResource(t.tx.QueryRow(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = $1 FOR UPDATE`, id))
	return r, classify(err, "lock resource "+id)
}

func (t *pgTx) LockActivity(ctx context.Context, id string) (*model.Activity, error) {
	a, err := scanActivity(t.tx.QueryRow(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = $1 FOR UPDATE`, id))
	return a, classify(err, "lock activity "+id)
}

func (t *pgTx) LockEvent(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(t.tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
	return e, classify(err, "lock event "+id)
}

func (t *pgTx) LockFlexiReservation(ctx context.Context, id string) (*model.FlexiReservation, error) {
	f, err := scanFlexi(t.tx.QueryRow(ctx,
		`SELECT `+flexiColumns+` FROM flexi_reservations WHERE id = $1 FOR UPDATE`, id))
	return f, classify(err, "lock flexi reservation "+id)
}

func (t *pgTx) LockReservationType(ctx context.Context, id string) (*model.ReservationType, error) {
	var rt model.ReservationType
	err := t.tx.QueryRow(ctx,
		`SELECT id, organisation_id, name FROM reservation_types WHERE id = $1 FOR UPDATE`, id,
	).Scan(&rt.ID, &rt.OrganisationID, &rt.Name)
	if err != nil {
		return nil, classify(err, "lock reservation type "+id)
	}
	return &rt, nil
}

func (t *pgTx) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := t.tx.QueryRow(ctx, `SELECT id, organisation_id FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.OrganisationID)
	if err != nil {
		return nil, classify(err, "get user "+id)
	}
	return &u, nil
}

func (t *pgTx) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	r, err := scanResource(t.tx.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id))
	return r, classify(err, "get resource "+id)
}

func (t *pgTx) GetActivity(ctx context.Context, id string) (*model.Activity, error) {
	a, err := scanActivity(t.tx.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = $1`, id))
	return a, classify(err, "get activity "+id)
}

func (t *pgTx) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(t.tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	return e, classify(err, "get event "+id)
}

func (t *pgTx) GetFlexiReservation(ctx context.Context, id string) (*model.FlexiReservation, error) {
	f, err := scanFlexi(t.tx.QueryRow(ctx, `SELECT `+flexiColumns+` FROM flexi_reservations WHERE id = $1`, id))
	return f, classify(err, "get flexi reservation "+id)
}

func (t *pgTx) GetReservationType(ctx context.Context, id string) (*model.ReservationType, error) {
	var rt model.ReservationType
	err := t.tx.QueryRow(ctx, `SELECT id, organisation_id, name FROM reservation_types WHERE id = $1`, id).
		Scan(&rt.ID, &rt.OrganisationID, &rt.Name)
	if err != nil {
		return nil, classify(err, "get reservation type "+id)
	}
	return &rt, nil
}

func (t *pgTx) GetPlanning(ctx context.Context, id string) (*model.Planning, error) {
	var p model.Planning
	err := t.tx.QueryRow(ctx, `SELECT id, activity_id FROM plannings WHERE id = $1`, id).
		Scan(&p.ID, &p.ActivityID)
	if err != nil {
		return nil, classify(err, "get planning "+id)
	}
	return &p, nil
}

func (t *pgTx) GetAllocation(ctx context.Context, kind model.AllocationKind, id string) (*model.Allocation, error) {
	return t.queryAllocation(ctx, kind, "id = $1", id)
}

func (t *pgTx) FindAllocation(ctx context.Context, kind model.AllocationKind, containerID, resourceID string) (*model.Allocation, error) {
	return t.queryAllocation(ctx, kind, "%s = $1 AND resource_id = $2", containerID, resourceID)
}

// queryAllocation reads one allocation row. A %s in where is replaced by the
// container column of kind.
func (t *pgTx) queryAllocation(ctx context.Context, kind model.AllocationKind, where string, args ...any) (*model.Allocation, error) {
	table, container, err := allocationTable(kind)
	if err != nil {
		return nil, err
	}
	if strings.Contains(where, "%s") {
		where = fmt.Sprintf(where, container)
	}
	a := model.Allocation{Kind: kind}
	err = t.tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, %s, resource_id, quantity FROM %s WHERE %s`, container, table, where),
		args...,
	).Scan(&a.ID, &a.ContainerID, &a.ResourceID, &a.Quantity)
	if err != nil {
		return nil, classify(err, "get "+kind.String())
	}
	return &a, nil
}

func (t *pgTx) FlexiReservationByEvent(ctx context.Context, eventID string) (*model.FlexiReservation, error) {
	f, err := scanFlexi(t.tx.QueryRow(ctx,
		`SELECT `+flexiColumns+` FROM flexi_reservations WHERE event_id = $1`, eventID))
	return f, classify(err, "get flexi reservation of event "+eventID)
}

func (t *pgTx) ListAllocations(ctx context.Context, kind model.AllocationKind, containerID string) ([]model.Allocation, error) {
	table, container, err := allocationTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(ctx,
		fmt.Sprintf(`SELECT id, %[1]s, resource_id, quantity FROM %[2]s WHERE %[1]s = $1 ORDER BY resource_id`, container, table),
		containerID,
	)
	if err != nil {
		return nil, classify(err, "list "+kind.String())
	}
	defer rows.Close()

	var out []model.Allocation
	for rows.Next() {
		a := model.Allocation{Kind: kind}
		if err := rows.Scan(&a.ID, &a.ContainerID, &a.ResourceID, &a.Quantity); err != nil {
			return nil, classify(err, "scan "+kind.String())
		}
		out = append(out, a)
	}
	return out, classify(rows.Err(), "list "+kind.String())
}

func (t *pgTx) ListResourceAllocations(ctx context.Context, resourceID string) ([]model.Allocation, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, 1, activity_id, resource_id, quantity FROM activity_resources WHERE resource_id = $1
		 UNION ALL
		 SELECT id, 2, flexi_reservation_id, resource_id, quantity FROM flexi_reservation_resources WHERE resource_id = $1`,
		resourceID,
	)
	if err != nil {
		return nil, classify(err, "list allocations of resource "+resourceID)
	}
	defer rows.Close()

	var out []model.Allocation
	for rows.Next() {
		var (
			a    model.Allocation
			kind int
		)
		if err := rows.Scan(&a.ID, &kind, &a.ContainerID, &a.ResourceID, &a.Quantity); err != nil {
			return nil, classify(err, "scan allocation")
		}
		a.Kind = model.AllocationKind(kind)
		out = append(out, a)
	}
	return out, classify(rows.Err(), "list allocations of resource "+resourceID)
}

func (t *pgTx) ListActivityEvents(ctx context.Context, activityID string) ([]model.Event, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE activity_id = $1 ORDER BY date_start`, activityID)
	if err != nil {
		return nil, classify(err, "list events of activity "+activityID)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, classify(err, "scan event")
		}
		out = append(out, *e)
	}
	return out, classify(rows.Err(), "list events of activity "+activityID)
}

func (t *pgTx) ListReservations(ctx context.Context, eventID string) ([]model.Reservation, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, event_id, user_id, quantity, created_at
		 FROM reservations
		 WHERE event_id = $1
		 ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, classify(err, "list reservations of event "+eventID)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var r model.Reservation
		if err := rows.Scan(&r.ID, &r.EventID, &r.UserID, &r.Quantity, &r.CreatedAt); err != nil {
			return nil, classify(err, "scan reservation")
		}
		out = append(out, r)
	}
	return out, classify(rows.Err(), "list reservations of event "+eventID)
}

func (t *pgTx) ListUserReservations(ctx context.Context, userID string) ([]model.BookedEvent, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT r.id, r.event_id, r.user_id, r.quantity, r.created_at,
		        e.id, e.activity_id, e.planning_id, e.date_start, e.date_stop, e.stock
		 FROM reservations r
		 JOIN events e ON e.id = r.event_id
		 WHERE r.user_id = $1
		 ORDER BY e.date_start ASC`,
		userID,
	)
	if err != nil {
		return nil, classify(err, "list reservations of user "+userID)
	}
	defer rows.Close()

	var out []model.BookedEvent
	for rows.Next() {
		var b model.BookedEvent
		r, e := &b.Reservation, &b.Event
		err := rows.Scan(&r.ID, &r.EventID, &r.UserID, &r.Quantity, &r.CreatedAt,
			&e.ID, &e.ActivityID, &e.PlanningID, &e.DateStart, &e.DateStop, &e.Stock)
		if err != nil {
			return nil, classify(err, "scan reservation")
		}
		out = append(out, b)
	}
	return out, classify(rows.Err(), "list reservations of user "+userID)
}

func (t *pgTx) AllowedResourceIDs(ctx context.Context, reservationTypeID string) ([]string, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT resource_id FROM reservation_type_resources WHERE reservation_type_id = $1 ORDER BY resource_id`,
		reservationTypeID,
	)
	if err != nil {
		return nil, classify(err, "list allowed resources")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, classify(err, "list allowed resources")
}

// usageQuery expands allocation rows on a resource ($1) into one row per
// event of their container. filter is applied to the event alias e.
func usageQuery(filter string) string {
	return `
		SELECT ar.id, 1, ar.activity_id, ar.resource_id, ar.quantity, e.id, e.date_start, e.date_stop
		FROM activity_resources ar
		JOIN events e ON e.activity_id = ar.activity_id
		WHERE ar.resource_id = $1 AND ` + filter + `
		UNION ALL
		SELECT fr.id, 2, fr.flexi_reservation_id, fr.resource_id, fr.quantity, e.id, e.date_start, e.date_stop
		FROM flexi_reservation_resources fr
		JOIN flexi_reservations f ON f.id = fr.flexi_reservation_id
		JOIN events e ON e.id = f.event_id
		WHERE fr.resource_id = $1 AND ` + filter
}

var (
	overlappingUsageSQL = usageQuery(`e.date_start < $3 AND e.date_stop > $2 AND e.id <> $4`)
	resourceUsageSQL    = usageQuery(`TRUE`)
)

func (t *pgTx) OverlappingUsage(ctx context.Context, resourceID string, w model.Window, excludeEventID string) ([]model.Usage, error) {
	return t.usage(ctx, overlappingUsageSQL, resourceID, w.Start, w.Stop, excludeEventID)
}

func (t *pgTx) ResourceUsage(ctx context.Context, resourceID string) ([]model.Usage, error) {
	return t.usage(ctx, resourceUsageSQL, resourceID)
}

func (t *pgTx) usage(ctx context.Context, sql string, args ...any) ([]model.Usage, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err, "load resource usage")
	}
	defer rows.Close()

	var out []model.Usage
	for rows.Next() {
		var (
			u    model.Usage
			kind int
		)
		err := rows.Scan(&u.ID, &kind, &u.ContainerID, &u.ResourceID, &u.Quantity,
			&u.EventID, &u.Window.Start, &u.Window.Stop)
		if err != nil {
			return nil, classify(err, "scan resource usage")
		}
		u.Kind = model.AllocationKind(kind)
		out = append(out, u)
	}
	return out, classify(rows.Err(), "load resource usage")
}

func (t *pgTx) InsertUser(ctx context.Context, u *model.User) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO users (id, organisation_id) VALUES ($1, $2)`, u.ID, u.OrganisationID)
	return classify(err, "insert user")
}

func (t *pgTx) InsertResource(ctx context.Context, r *model.Resource) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO resources (`+resourceColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.OrganisationID, r.ResourceType, r.Name, r.Stock, r.Deleted,
	)
	return classify(err, "insert resource")
}

func (t *pgTx) InsertActivity(ctx context.Context, a *model.Activity) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO activities (`+activityColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.OrganisationID, a.Name, a.Stock, a.Deleted,
	)
	return classify(err, "insert activity")
}

func (t *pgTx) InsertPlanning(ctx context.Context, p *model.Planning) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO plannings (id, activity_id) VALUES ($1, $2)`, p.ID, p.ActivityID)
	return classify(err, "insert planning")
}

func (t *pgTx) InsertReservationType(ctx context.Context, rt *model.ReservationType) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO reservation_types (id, organisation_id, name) VALUES ($1, $2, $3)`,
		rt.ID, rt.OrganisationID, rt.Name,
	)
	return classify(err, "insert reservation type")
}

func (t *pgTx) InsertAllowedResource(ctx context.Context, reservationTypeID, resourceID string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO reservation_type_resources (reservation_type_id, resource_id) VALUES ($1, $2)`,
		reservationTypeID, resourceID,
	)
	return classify(err, "insert allowed resource")
}

func (t *pgTx) InsertEvent(ctx context.Context, e *model.Event) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.ActivityID, e.PlanningID, e.DateStart, e.DateStop, e.Stock,
	)
	return classify(err, "insert event")
}

func (t *pgTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO reservations (id, event_id, user_id, quantity, created_at) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.EventID, r.UserID, r.Quantity, r.CreatedAt,
	)
	return classify(err, "insert reservation")
}

func (t *pgTx) InsertFlexiReservation(ctx context.Context, f *model.FlexiReservation) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO flexi_reservations (`+flexiColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.UserID, f.ReservationTypeID, f.EventID, f.CreatedAt,
	)
	return classify(err, "insert flexi reservation")
}

func (t *pgTx) InsertAllocation(ctx context.Context, a *model.Allocation) error {
	table, container, err := allocationTable(a.Kind)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, %s, resource_id, quantity) VALUES ($1, $2, $3, $4)`, table, container),
		a.ID, a.ContainerID, a.ResourceID, a.Quantity,
	)
	return classify(err, "insert "+a.Kind.String())
}

func (t *pgTx) UpdateResourceStock(ctx context.Context, id string, stock int) error {
	return t.update(ctx, "update resource "+id, `UPDATE resources SET stock = $2 WHERE id = $1`, id, stock)
}

func (t *pgTx) UpdateEventStock(ctx context.Context, id string, stock int) error {
	return t.update(ctx, "update event "+id, `UPDATE events SET stock = $2 WHERE id = $1`, id, stock)
}

func (t *pgTx) UpdateAllocationQuantity(ctx context.Context, kind model.AllocationKind, id string, quantity int) error {
	table, _, err := allocationTable(kind)
	if err != nil {
		return err
	}
	return t.update(ctx, "update "+kind.String()+" "+id,
		fmt.Sprintf(`UPDATE %s SET quantity = $2 WHERE id = $1`, table), id, quantity)
}

func (t *pgTx) MarkResourceDeleted(ctx context.Context, id string) error {
	return t.update(ctx, "delete resource "+id, `UPDATE resources SET deleted = TRUE WHERE id = $1`, id)
}

func (t *pgTx) MarkActivityDeleted(ctx context.Context, id string) error {
	return t.update(ctx, "delete activity "+id, `UPDATE activities SET deleted = TRUE WHERE id = $1`, id)
}

func (t *pgTx) update(ctx context.Context, what, sql string, args ...any) error {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return classify(err, what)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

var _ Tx = (*pgTx)(nil)
