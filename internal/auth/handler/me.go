package handler

import (
	"context"
	"errors"
	"net/http"

	"social-login-service/internal/account"
	"social-login-service/internal/logger"
	"social-login-service/internal/middleware"

	"github.com/gin-gonic/gin"
)

// AccountFinder loads the signed-in account.
type AccountFinder interface {
	FindByID(ctx context.Context, id string) (*account.Account, error)
}

// Me reports the signed-in account. can_reset_password is false for
// accounts that sign in through a provider, so the host site can hide its
// forgot-password path from them. Provider tokens are never returned.
func Me(accounts AccountFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.ContextUserID)

		acct, err := accounts.FindByID(c.Request.Context(), userID)
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "account not found",
			})
			return
		}
		if err != nil {
			logger.Error("load account failed", map[string]any{
				"user_id": userID,
				"error":   err.Error(),
			})
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "internal error",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user_id":            acct.ID,
			"email":              acct.Email,
			"first_name":         acct.FirstName,
			"last_name":          acct.LastName,
			"provider":           acct.Provider,
			"can_reset_password": acct.CanResetPassword(),
		})
	}
}
