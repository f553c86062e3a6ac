package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

// ListBrokerUsers vrací uživatele brokeru včetně ACL.
func (s *Store) ListBrokerUsers(ctx context.Context) ([]model.BrokerUser, error) {
	// LEFT JOIN, aby se vrátil i uživatel bez jediného ACL pravidla.
	rows, err := s.db.Query(ctx, `
		SELECT u.username, u.password, a.topic, a.permission
		FROM broker_users u
		LEFT JOIN broker_acls a ON a.username = u.username
		ORDER BY u.username, a.id`)
	if err != nil {
		return nil, fmt.Errorf("selhal SQL dotaz na uživatele brokeru: %w", err)
	}
	defer rows.Close()

	users := []model.BrokerUser{}
	for rows.Next() {
		var username, password string
		var topic *string
		var perm *int16
		if err := rows.Scan(&username, &password, &topic, &perm); err != nil {
			return nil, err
		}

		if len(users) == 0 || users[len(users)-1].Username != username {
			users = append(users, model.BrokerUser{Username: username, Password: password, ACLs: []model.AclEntry{}})
		}
		if topic != nil && perm != nil {
			last := &users[len(users)-1]
			last.ACLs = append(last.ACLs, model.AclEntry{Topic: *topic, Permission: model.Permission(*perm)})
		}
	}
	return users, rows.Err()
}

// GetBrokerUser vrací jednoho uživatele brokeru.
func (s *Store) GetBrokerUser(ctx context.Context, username string) (model.BrokerUser, error) {
	u := model.BrokerUser{Username: username, ACLs: []model.AclEntry{}}
	err := s.db.QueryRow(ctx, `SELECT password FROM broker_users WHERE username = $1`, username).Scan(&u.Password)
	if err != nil {
		return model.BrokerUser{}, mapErr(err, fmt.Sprintf("uživatel brokeru %q", username))
	}

	rows, err := s.db.Query(ctx, `SELECT topic, permission FROM broker_acls WHERE username = $1 ORDER BY id`, username)
	if err != nil {
		return model.BrokerUser{}, fmt.Errorf("selhal SQL dotaz na ACL: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var acl model.AclEntry
		var perm int16
		if err := rows.Scan(&acl.Topic, &perm); err != nil {
			return model.BrokerUser{}, err
		}
		acl.Permission = model.Permission(perm)
		u.ACLs = append(u.ACLs, acl)
	}
	return u, rows.Err()
}

// SaveBrokerUser vloží nebo přepíše uživatele a nahradí všechna jeho ACL.
func (s *Store) SaveBrokerUser(ctx context.Context, u model.BrokerUser) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO broker_users (username, password, allow)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (username) DO UPDATE SET password = EXCLUDED.password`,
			u.Username, u.Password)
		if err != nil {
			return fmt.Errorf("nelze uložit uživatele brokeru: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM broker_acls WHERE username = $1`, u.Username); err != nil {
			return fmt.Errorf("nelze smazat ACL: %w", err)
		}
		for _, acl := range u.ACLs {
			_, err := tx.Exec(ctx, `INSERT INTO broker_acls (username, topic, permission) VALUES ($1, $2, $3)`,
				u.Username, acl.Topic, int16(acl.Permission))
			if err != nil {
				return fmt.Errorf("nelze uložit ACL %q: %w", acl.Topic, err)
			}
		}
		return nil
	})
}

// DeleteBrokerUser smaže nejdřív ACL a pak uživatele, obojí v jedné transakci.
func (s *Store) DeleteBrokerUser(ctx context.Context, username string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM broker_acls WHERE username = $1`, username); err != nil {
			return fmt.Errorf("nelze smazat ACL: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM broker_users WHERE username = $1`, username)
		if err != nil {
			return fmt.Errorf("nelze smazat uživatele brokeru: %w", err)
		}
		return notFoundIfNone(tag, fmt.Sprintf("uživatel brokeru %q", username))
	})
}
