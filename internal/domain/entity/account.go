package entity

import "time"

const (
	RoleCustomer   = "customer"
	RoleMerchant   = "merchant"
	RoleConsultant = "consultant"
	RoleManager    = "manager"
)

type Account struct {
	ID        string    `json:"id" firestore:"id"`
	Email     string    `json:"email" firestore:"email"`
	Name      string    `json:"name" firestore:"name"`
	AvatarURL string    `json:"avatar_url,omitempty" firestore:"avatarUrl,omitempty"`
	Role      string    `json:"role" firestore:"role"`
	Status    string    `json:"status" firestore:"status"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}
