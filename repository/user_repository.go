package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/miguelbtcode/techmart-backend-sub002/logger"
	"github.com/miguelbtcode/techmart-backend-sub002/model"
	"github.com/sirupsen/logrus"
)

// ErrDuplicate is returned when a unique constraint (username or email) is violated.
var ErrDuplicate = errors.New("record already exists")

const uniqueViolation = "23505"

// IUserRepository defines the contract for user database operations.
type IUserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int) (*model.User, error)
	GetUserForUpdate(ctx context.Context, id int) (*model.User, error)
	GetAllUsers(ctx context.Context) ([]*model.User, error)
	UpdatePassword(ctx context.Context, id int, passwordHash string) error
	UpdateUserRole(ctx context.Context, id int, role model.Role) error
}

type UserRepository struct {
	DB DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{DB: db}
}

const userColumns = `id, username, email, password, role, created_at`

func (r *UserRepository) CreateUser(ctx context.Context, user *model.User) error {
	log := logger.Log.WithFields(logrus.Fields{
		"username": user.Username,
		"role":     user.Role,
	})
	log.Info("Executing query to create a new user")

	query := `INSERT INTO users (username, email, password, role) VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	err := r.DB.QueryRowContext(ctx, query, user.Username, user.Email, user.Password, string(user.Role)).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		log.WithError(err).Error("Failed to execute create user query")
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.getOne(ctx, query, email)
}

func (r *UserRepository) GetUserByID(ctx context.Context, id int) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetUserForUpdate locks the user row for the rest of the surrounding transaction.
func (r *UserRepository) GetUserForUpdate(ctx context.Context, id int) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*model.User, error) {
	user := &model.User{}
	var role string
	err := r.DB.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Username, &user.Email, &user.Password, &role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		logger.Log.WithError(err).Error("Failed to execute get user query")
		return nil, fmt.Errorf("get user: %w", err)
	}
	user.Role = model.Role(role)
	return user, nil
}

func (r *UserRepository) GetAllUsers(ctx context.Context) ([]*model.User, error) {
	log := logger.Log
	log.Info("Executing query to get all users")

	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		log.WithError(err).Error("Failed to execute query for all users")
		return nil, fmt.Errorf("get all users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		var (
			u    model.User
			role string
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &role, &u.CreatedAt); err != nil {
			log.WithError(err).Error("Failed to scan user row")
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Role = model.Role(role)
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id int, passwordHash string) error {
	log := logger.Log.WithField("user_id", id)
	log.Info("Executing query to update user password")

	res, err := r.DB.ExecContext(ctx, `UPDATE users SET password = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		log.WithError(err).Error("Failed to execute update password query")
		return fmt.Errorf("update password: %w", err)
	}
	return requireOneRow(res)
}

func (r *UserRepository) UpdateUserRole(ctx context.Context, id int, role model.Role) error {
	log := logger.Log.WithFields(logrus.Fields{
		"user_id": id,
		"role":    role,
	})
	log.Info("Executing query to update user role")

	res, err := r.DB.ExecContext(ctx, `UPDATE users SET role = $2 WHERE id = $1`, id, string(role))
	if err != nil {
		log.WithError(err).Error("Failed to execute update role query")
		return fmt.Errorf("update role: %w", err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
