package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/drowsiness-monitor/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Migrate applies the embedded goose migrations to the database at url.
func Migrate(url string) error {
	sqlDB, err := sql.Open("pgx", url)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// PostgresStore implements Store on PostgreSQL through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres runs migrations and opens a connection pool.
func ConnectPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	if err := Migrate(url); err != nil {
		return nil, err
	}
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.Connect error: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping error: %w", err)
	}
	log.Info("PostgreSQL store initialized")
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

const tripColumns = "id, user_id, start_time, end_time, status"

func scanTrip(row pgx.Row) (models.Trip, error) {
	var t models.Trip
	var status string
	if err := row.Scan(&t.ID, &t.UserID, &t.StartTime, &t.EndTime, &status); err != nil {
		return models.Trip{}, err
	}
	t.Status = models.TripStatus(status)
	return t, nil
}

// CreateTrip inserts an ONGOING trip. The per-user advisory lock serializes
// concurrent callers and the partial unique index backs it up.
func (s *PostgresStore) CreateTrip(ctx context.Context, userID int64, start time.Time) (models.Trip, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Trip{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", userID); err != nil {
		return models.Trip{}, fmt.Errorf("advisory lock: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM trips WHERE user_id = $1 AND status = 'ONGOING')", userID,
	).Scan(&exists)
	if err != nil {
		return models.Trip{}, fmt.Errorf("check active trip: %w", err)
	}
	if exists {
		return models.Trip{}, ErrActiveTripExists
	}

	trip, err := scanTrip(tx.QueryRow(ctx,
		"INSERT INTO trips (user_id, start_time, status) VALUES ($1, $2, $3) RETURNING "+tripColumns,
		userID, start, string(models.TripOngoing),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Trip{}, ErrActiveTripExists
		}
		return models.Trip{}, fmt.Errorf("insert trip: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Trip{}, fmt.Errorf("commit: %w", err)
	}
	return trip, nil
}

// FindActiveTrip returns the user's ONGOING trip, or nil when there is none.
func (s *PostgresStore) FindActiveTrip(ctx context.Context, userID int64) (*models.Trip, error) {
	trip, err := scanTrip(s.pool.QueryRow(ctx,
		"SELECT "+tripColumns+" FROM trips WHERE user_id = $1 AND status = 'ONGOING'", userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active trip: %w", err)
	}
	return &trip, nil
}

// FindTripByID returns the trip or ErrNotFound.
func (s *PostgresStore) FindTripByID(ctx context.Context, id int64) (*models.Trip, error) {
	trip, err := scanTrip(s.pool.QueryRow(ctx, "SELECT "+tripColumns+" FROM trips WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find trip: %w", err)
	}
	return &trip, nil
}

// FinishTrip marks the trip FINISHED only if it is still ONGOING.
func (s *PostgresStore) FinishTrip(ctx context.Context, tripID int64, end time.Time) (models.Trip, error) {
	trip, err := scanTrip(s.pool.QueryRow(ctx,
		"UPDATE trips SET status = $2, end_time = $3 WHERE id = $1 AND status = 'ONGOING' RETURNING "+tripColumns,
		tripID, string(models.TripFinished), end,
	))
	if err == nil {
		return trip, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Trip{}, fmt.Errorf("finish trip: %w", err)
	}
	if _, findErr := s.FindTripByID(ctx, tripID); findErr != nil {
		return models.Trip{}, findErr
	}
	return models.Trip{}, ErrTripNotActive
}

// FindTripsByUser returns the user's trips newest first.
func (s *PostgresStore) FindTripsByUser(ctx context.Context, userID int64, limit int) ([]models.Trip, error) {
	query := "SELECT " + tripColumns + " FROM trips WHERE user_id = $1 ORDER BY start_time DESC, id DESC"
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find trips: %w", err)
	}
	defer rows.Close()

	trips := make([]models.Trip, 0)
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

// InsertDetectionLog stores a log entry and assigns its ID.
func (s *PostgresStore) InsertDetectionLog(ctx context.Context, entry models.DetectionLog) (models.DetectionLog, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO detection_logs (trip_id, timestamp, event_type, confidence, gps_location)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		entry.TripID, entry.Timestamp, entry.EventType, entry.Confidence, entry.GPSLocation,
	).Scan(&entry.ID)
	if isForeignKeyViolation(err) {
		return models.DetectionLog{}, ErrNotFound
	}
	if err != nil {
		return models.DetectionLog{}, fmt.Errorf("insert detection log: %w", err)
	}
	return entry, nil
}

// FindLogsByTrip returns the trip's logs ordered by timestamp.
func (s *PostgresStore) FindLogsByTrip(ctx context.Context, tripID int64) ([]models.DetectionLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, trip_id, timestamp, event_type, confidence, gps_location
		 FROM detection_logs WHERE trip_id = $1 ORDER BY timestamp, id`, tripID)
	if err != nil {
		return nil, fmt.Errorf("find detection logs: %w", err)
	}
	defer rows.Close()

	logs := make([]models.DetectionLog, 0)
	for rows.Next() {
		var l models.DetectionLog
		if err := rows.Scan(&l.ID, &l.TripID, &l.Timestamp, &l.EventType, &l.Confidence, &l.GPSLocation); err != nil {
			return nil, fmt.Errorf("scan detection log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CountLogsByTrip counts the logs attached to a trip.
func (s *PostgresStore) CountLogsByTrip(ctx context.Context, tripID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM detection_logs WHERE trip_id = $1", tripID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count detection logs: %w", err)
	}
	return n, nil
}

// CountLogsByUser counts the logs across all of the user's trips.
func (s *PostgresStore) CountLogsByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM detection_logs d JOIN trips t ON t.id = d.trip_id WHERE t.user_id = $1`,
		userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user detection logs: %w", err)
	}
	return n, nil
}

// DetectionBreakdown counts the user's logs per event type.
func (s *PostgresStore) DetectionBreakdown(ctx context.Context, userID int64) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT d.event_type, COUNT(*) FROM detection_logs d
		 JOIN trips t ON t.id = d.trip_id WHERE t.user_id = $1 GROUP BY d.event_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("detection breakdown: %w", err)
	}
	defer rows.Close()

	breakdown := make(map[string]int)
	for rows.Next() {
		var eventType string
		var n int
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("scan breakdown: %w", err)
		}
		breakdown[eventType] = n
	}
	return breakdown, rows.Err()
}

const userColumns = "id, email, password_hash, full_name, phone_number, avatar_url, is_active, last_login, created_at, updated_at"

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.PhoneNumber,
		&u.AvatarURL, &u.IsActive, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// InsertUser inserts a new user into the database
func (s *PostgresStore) InsertUser(ctx context.Context, user models.User) (models.User, error) {
	created, err := scanUser(s.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, full_name, phone_number, avatar_url)
		 VALUES ($1, $2, $3, $4, $5) RETURNING `+userColumns,
		user.Email, user.PasswordHash, user.FullName, user.PhoneNumber, user.AvatarURL,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrDuplicateEmail
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return *created, nil
}

// FindUserByID finds a user by their ID
func (s *PostgresStore) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// FindUserByEmail finds a user by their email
func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email))
}

// UpdateUser writes the mutable user fields.
func (s *PostgresStore) UpdateUser(ctx context.Context, user models.User) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, full_name = $3, phone_number = $4, avatar_url = $5,
		 is_active = $6, updated_at = NOW() WHERE id = $1`,
		user.ID, user.PasswordHash, user.FullName, user.PhoneNumber, user.AvatarURL, user.IsActive)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastLogin updates the last login time for a user
func (s *PostgresStore) UpdateLastLogin(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "UPDATE users SET last_login = NOW(), updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const contactColumns = "id, user_id, name, phone_number, is_active"

func scanContact(row pgx.Row) (models.EmergencyContact, error) {
	var c models.EmergencyContact
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.PhoneNumber, &c.IsActive)
	return c, err
}

// InsertContact stores a new emergency contact.
func (s *PostgresStore) InsertContact(ctx context.Context, contact models.EmergencyContact) (models.EmergencyContact, error) {
	created, err := scanContact(s.pool.QueryRow(ctx,
		`INSERT INTO emergency_contacts (user_id, name, phone_number, is_active)
		 VALUES ($1, $2, $3, $4) RETURNING `+contactColumns,
		contact.UserID, contact.Name, contact.PhoneNumber, contact.IsActive))
	if err != nil {
		return models.EmergencyContact{}, fmt.Errorf("insert contact: %w", err)
	}
	return created, nil
}

// FindContactsByUser returns the user's contacts ordered by ID.
func (s *PostgresStore) FindContactsByUser(ctx context.Context, userID int64) ([]models.EmergencyContact, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+contactColumns+" FROM emergency_contacts WHERE user_id = $1 ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("find contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]models.EmergencyContact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// FindContactByID returns the contact or ErrNotFound.
func (s *PostgresStore) FindContactByID(ctx context.Context, id int64) (*models.EmergencyContact, error) {
	c, err := scanContact(s.pool.QueryRow(ctx,
		"SELECT "+contactColumns+" FROM emergency_contacts WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find contact: %w", err)
	}
	return &c, nil
}

// UpdateContact writes the mutable contact fields.
func (s *PostgresStore) UpdateContact(ctx context.Context, contact models.EmergencyContact) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE emergency_contacts SET name = $2, phone_number = $3, is_active = $4 WHERE id = $1",
		contact.ID, contact.Name, contact.PhoneNumber, contact.IsActive)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteContact deletes a contact by its ID.
func (s *PostgresStore) DeleteContact(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM emergency_contacts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
