package event

const TypeAccessDenied Type = "access_denied"

type AccessDenied struct {
	Role   string `json:"role"`
	Action string `json:"action"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (AccessDenied) EventType() Type { return TypeAccessDenied }
