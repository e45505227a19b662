package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/linguahub/lingua-api/internal/dto"
	"github.com/linguahub/lingua-api/internal/models"
	"github.com/linguahub/lingua-api/internal/repository"
)

func setupUserService(t *testing.T) (UserService, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	validate := validator.New(validator.WithRequiredStructEnabled())
	return NewUserService(repository.NewUserRepository(db), validate, testLogger()), db
}

func TestCreateUserHashesPasswordAndDefaultsActive(t *testing.T) {
	svc, db := setupUserService(t)

	created, err := svc.CreateUser(context.Background(), dto.CreateUserRequest{
		Email:     "Neu@Lingua.Test",
		Password:  "geheim123",
		FirstName: "Neu",
		LastName:  "Nutzer",
		Role:      "TEACHER",
	})
	require.NoError(t, err)
	require.Equal(t, "neu@lingua.test", created.Email)
	require.Equal(t, "TEACHER", created.Role)
	require.Equal(t, "ACTIVE", created.Status)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", created.ID).Error)
	require.NotEqual(t, "geheim123", stored.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("geheim123")))
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	svc, _ := setupUserService(t)

	req := dto.CreateUserRequest{
		Email:     "doppelt@lingua.test",
		Password:  "geheim123",
		FirstName: "Erste",
		LastName:  "Anmeldung",
		Role:      "STUDENT",
	}
	_, err := svc.CreateUser(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.CreateUser(context.Background(), req)
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestListUsersFiltersByRoleAndStatus(t *testing.T) {
	svc, db := setupUserService(t)

	seed := []models.User{
		{Email: "a@lingua.test", Role: models.RoleTeacher, Status: models.UserStatusActive},
		{Email: "b@lingua.test", Role: models.RoleStudent, Status: models.UserStatusActive},
		{Email: "c@lingua.test", Role: models.RoleStudent, Status: models.UserStatusSuspended},
	}
	for i := range seed {
		require.NoError(t, db.Create(&seed[i]).Error)
	}

	students, err := svc.ListUsers(context.Background(), dto.ListUsersQuery{Role: "STUDENT"})
	require.NoError(t, err)
	require.Len(t, students, 2)

	activeStudents, err := svc.ListUsers(context.Background(), dto.ListUsersQuery{Role: "STUDENT", Status: "ACTIVE"})
	require.NoError(t, err)
	require.Len(t, activeStudents, 1)
	require.Equal(t, "b@lingua.test", activeStudents[0].Email)

	_, err = svc.ListUsers(context.Background(), dto.ListUsersQuery{Role: "WIZARD"})
	require.Error(t, err)
}
