package validation

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/urbanease-realtime/internal/realtime"
)

var routeIDPattern = regexp.MustCompile(`^\w+$`)

// Validator wraps go-playground/validator to integrate with Gin.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// "topic" and "route_id" are used by broadcast and mobility payloads.
	_ = v.RegisterValidation("topic", func(fl validator.FieldLevel) bool {
		return realtime.ValidateTopic(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("route_id", func(fl validator.FieldLevel) bool {
		return IsRouteID(fl.Field().String())
	})
	return &Validator{v: v}
}

// IsRouteID reports whether id is usable in a transport topic name.
func IsRouteID(id string) bool {
	return routeIDPattern.MatchString(id)
}

// Struct validates payload and returns a readable error.
func (v *Validator) Struct(payload any) error {
	if err := v.v.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func (v *Validator) ValidateStruct(ctx *gin.Context, payload any) bool {
	if err := v.Struct(payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// BindJSON decodes the request body into payload and validates it, writing
// a 400 response on failure.
func (v *Validator) BindJSON(ctx *gin.Context, payload any) bool {
	if err := ctx.ShouldBindJSON(payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return false
	}
	return v.ValidateStruct(ctx, payload)
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min", "gte":
		return field + " must be at least " + fe.Param()
	case "max", "lte":
		return field + " must be at most " + fe.Param()
	case "oneof":
		return field + " must be one of: " + fe.Param()
	default:
		return field + " is invalid"
	}
}
