package dto

// CreateUserRequest provisions a new account. Admin only.
type CreateUserRequest struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=6,max=128"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"omitempty,max=32"`
	Role      string `json:"role" validate:"required,oneof=ADMIN TEACHER STUDENT"`
}

// ListUsersQuery filters the account directory.
type ListUsersQuery struct {
	Role   string `query:"role" validate:"omitempty,oneof=ADMIN TEACHER STUDENT"`
	Status string `query:"status" validate:"omitempty,oneof=ACTIVE INACTIVE SUSPENDED"`
}
