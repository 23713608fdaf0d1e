package user

// User is the caller identity supplied by the upstream authentication layer.
// This service does not own user records; it only scopes reads and writes by Id.
type User struct {
	Id          string
	DisplayName string
}
