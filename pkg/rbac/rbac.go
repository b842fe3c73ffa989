package rbac

import "fmt"

// Role is the capability a caller holds on one contract.
type Role string

// 角色常量
const (
	RoleClient     Role = "CLIENT"
	RoleFreelancer Role = "FREELANCER"
	RoleAdmin      Role = "ADMIN"
	RoleNone       Role = ""
)

// 权限常量
const (
	PermissionViewContract         = "contract:view"
	PermissionUpdateContractStatus = "contract:update_status"
	PermissionAddMilestone         = "milestone:add"
	PermissionSubmitMilestone      = "milestone:submit"
	PermissionStartMilestone       = "milestone:start"
	PermissionAcceptMilestone      = "milestone:accept"
	PermissionRejectMilestone      = "milestone:reject"
	PermissionManageJobTemplates   = "template:job"
	PermissionManageProposalOffers = "template:proposal"
	PermissionReplayOutbox         = "outbox:replay"
)

// 角色权限映射
var rolePermissions = map[Role][]string{
	RoleClient: {
		PermissionViewContract,
		PermissionUpdateContractStatus,
		PermissionAddMilestone,
		PermissionAcceptMilestone,
		PermissionRejectMilestone,
		PermissionManageJobTemplates,
	},
	RoleFreelancer: {
		PermissionViewContract,
		PermissionSubmitMilestone,
		PermissionStartMilestone,
		PermissionManageProposalOffers,
	},
	RoleAdmin: {
		PermissionReplayOutbox,
	},
}

// ParseRole normalizes a role claim; unknown claims map to RoleNone.
func ParseRole(raw string) Role {
	switch Role(raw) {
	case RoleClient, RoleFreelancer, RoleAdmin:
		return Role(raw)
	}
	return RoleNone
}

// PartyRoles resolves which sides of a contract actorID sits on. The result
// comes from stored ownership, never from a caller's claim.
func PartyRoles(actorID, clientID, freelancerID int64) []Role {
	var roles []Role
	if actorID != 0 && actorID == clientID {
		roles = append(roles, RoleClient)
	}
	if actorID != 0 && actorID == freelancerID {
		roles = append(roles, RoleFreelancer)
	}
	return roles
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role Role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查 actor 在合同上的任一角色是否具有指定权限
func CheckPermission(actorID int64, roles []Role, permission string) error {
	for _, r := range roles {
		if HasPermission(r, permission) {
			return nil
		}
	}
	return &PermissionDeniedError{
		UserID:     actorID,
		Permission: permission,
	}
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     int64
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("user %d lacks permission %s", e.UserID, e.Permission)
}
