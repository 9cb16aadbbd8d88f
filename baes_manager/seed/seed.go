package seed

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"baes_platform/baes_manager/auth"
	"baes_platform/baes_manager/schema"
	"baes_platform/utils/logging"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type UserSeed struct {
	Login    string   `yaml:"login"`
	Password string   `yaml:"password"`
	Roles    []string `yaml:"roles"`
}

type Data struct {
	Roles []string   `yaml:"roles"`
	Users []UserSeed `yaml:"users"`
}

func DefaultData() Data {
	return Data{
		Roles: []string{"user", "technicien", "admin", "super-admin"},
		Users: []UserSeed{
			{Login: "user", Password: "user_password", Roles: []string{"user"}},
			{Login: "technicien", Password: "tech_password", Roles: []string{"technicien"}},
			{Login: "admin", Password: "admin_password", Roles: []string{"admin"}},
			{Login: "superadmin", Password: "superadmin_password", Roles: []string{"super-admin"}},
		},
	}
}

func LoadFile(path string) (Data, error) {
	file, err := os.Open(path)
	if err != nil {
		return Data{}, fmt.Errorf("error opening seed file: %w", err)
	}
	defer file.Close()

	var data Data
	if err := yaml.NewDecoder(file).Decode(&data); err != nil {
		return Data{}, fmt.Errorf("error parsing seed file %v: %w", path, err)
	}

	if err := data.validate(); err != nil {
		return Data{}, fmt.Errorf("invalid seed file %v: %w", path, err)
	}

	return data, nil
}

func (d *Data) validate() error {
	for _, role := range d.Roles {
		if role == "" {
			return errors.New("role names must not be empty")
		}
	}
	for _, user := range d.Users {
		if user.Login == "" || user.Password == "" {
			return errors.New("users must have a login and a password")
		}
	}
	return nil
}

// Apply creates the roles and users that do not exist yet. Existing rows, including their
// passwords and role assignments, are left untouched so it is safe to run on every start.
func Apply(db *gorm.DB, data Data) error {
	return db.Transaction(func(txn *gorm.DB) error {
		roles := make(map[string]schema.Role, len(data.Roles))

		for _, name := range data.Roles {
			var role schema.Role
			result := txn.Limit(1).Find(&role, "name = ?", name)
			if result.Error != nil {
				return fmt.Errorf("error looking up role %v: %w", name, result.Error)
			}
			if result.RowsAffected == 0 {
				role = schema.Role{Name: name}
				if err := txn.Create(&role).Error; err != nil {
					return fmt.Errorf("error creating role %v: %w", name, err)
				}
				slog.Info("created default role", logging.Code(logging.SEED), "role", name)
			}
			roles[name] = role
		}

		for _, seed := range data.Users {
			var existing int64
			if err := txn.Model(&schema.User{}).Where("login = ?", seed.Login).Count(&existing).Error; err != nil {
				return fmt.Errorf("error checking for user %v: %w", seed.Login, err)
			}
			if existing > 0 {
				continue
			}

			hashed, err := auth.HashPassword(seed.Password)
			if err != nil {
				return err
			}

			user := schema.User{Login: seed.Login, Password: hashed}
			for _, name := range seed.Roles {
				role, ok := roles[name]
				if !ok {
					slog.Warn("seed user references unknown role", logging.Code(logging.SEED), "login", seed.Login, "role", name)
					continue
				}
				user.Roles = append(user.Roles, role)
			}

			if err := txn.Omit("Roles.*").Create(&user).Error; err != nil {
				return fmt.Errorf("error creating user %v: %w", seed.Login, err)
			}
			slog.Info("created default user", logging.Code(logging.SEED), "login", seed.Login, "roles", user.RoleNames())
		}

		return nil
	})
}
