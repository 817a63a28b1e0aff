package middlewares

import (
	"context"
	"errors"
	"net/http"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/gin-gonic/gin"
)

var (
	ErrNoActor   = errors.New("authentication required")
	ErrForbidden = errors.New("role not allowed for this operation")
)

// The single authorization boundary: which roles may request which
// order transition. Managers may request anything. Checked once at
// the HTTP boundary; models and workflow stay capability-free.
var orderTransitionRoles = map[models.OrderStatus][]models.ActorRole{
	models.OrderStatusConfirmed: {models.ActorRoleServer},
	models.OrderStatusPreparing: {models.ActorRoleKitchen},
	models.OrderStatusReady:     {models.ActorRoleKitchen},
	models.OrderStatusServed:    {models.ActorRoleServer},
	models.OrderStatusCompleted: {models.ActorRoleCashier},
	models.OrderStatusCancelled: {models.ActorRoleServer, models.ActorRoleCashier},
}

var itemTransitionRoles = map[models.OrderItemStatus][]models.ActorRole{
	models.OrderItemStatusPreparing: {models.ActorRoleKitchen},
	models.OrderItemStatusReady:     {models.ActorRoleKitchen},
	models.OrderItemStatusServed:    {models.ActorRoleServer},
}

func actorRole(ctx context.Context) (models.ActorRole, error) {
	role, ok := utils.GetActorRoleFromContext(ctx)
	if !ok || role == "" {
		return "", ErrNoActor
	}
	return models.ActorRole(role), nil
}

func roleAllowed(role models.ActorRole, allowed []models.ActorRole) bool {
	if role == models.ActorRoleManager {
		return true
	}
	for _, a := range allowed {
		if a == role {
			return true
		}
	}
	return false
}

func CheckOrderTransition(ctx context.Context, target models.OrderStatus) error {
	role, err := actorRole(ctx)
	if err != nil {
		return err
	}
	if !roleAllowed(role, orderTransitionRoles[target]) {
		return ErrForbidden
	}
	return nil
}

func CheckItemTransition(ctx context.Context, target models.OrderItemStatus) error {
	role, err := actorRole(ctx)
	if err != nil {
		return err
	}
	if !roleAllowed(role, itemTransitionRoles[target]) {
		return ErrForbidden
	}
	return nil
}

// RequireRole gates a whole route on the actor's role.
func RequireRole(roles ...models.ActorRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := actorRole(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": ErrNoActor.Error()})
			c.Abort()
			return
		}
		if !roleAllowed(role, roles) {
			c.JSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
			c.Abort()
			return
		}
		c.Next()
	}
}
