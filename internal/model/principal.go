package model

// Principal is the authenticated, approved caller of a request.
type Principal struct {
	UserID  uint
	Name    string
	IsAdmin bool
}

// CanManage reports whether the principal may modify a record owned by ownerID.
func (p Principal) CanManage(ownerID uint) bool {
	return p.IsAdmin || (p.UserID != 0 && p.UserID == ownerID)
}
