package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/chachabrian/mooveit-dispatch/internal/apperr"
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/chachabrian/mooveit-dispatch/internal/repository"
	"github.com/chachabrian/mooveit-dispatch/pkg/utils"
	"github.com/gin-gonic/gin"
)

// TokenIssuer signs access tokens for authenticated users
type TokenIssuer struct {
	Secret string
	TTL    time.Duration
}

func (t TokenIssuer) issue(user *models.User) (string, error) {
	return utils.GenerateToken(user.ID, user.Role, t.Secret, t.TTL)
}

type RegisterInput struct {
	Name         string           `json:"name" binding:"required"`
	Email        string           `json:"email" binding:"required,email"`
	Password     string           `json:"password" binding:"required,min=6"`
	Phone        string           `json:"phone"`
	Role         string           `json:"role" binding:"required,oneof=rider driver"`
	VehicleClass string           `json:"vehicleClass"`
	Location     *CoordinateInput `json:"location"`
}

type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func userResponse(user *models.User) gin.H {
	return gin.H{
		"id":           user.ID,
		"name":         user.Name,
		"email":        user.Email,
		"role":         user.Role,
		"vehicleClass": user.VehicleClass,
		"rating":       user.AverageRating,
		"ratingCount":  user.RatingCount,
	}
}

func Register(store repository.Store, tokens TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input RegisterInput
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}

		user := &models.User{
			Name:        strings.TrimSpace(input.Name),
			Email:       strings.ToLower(strings.TrimSpace(input.Email)),
			Password:    input.Password,
			PhoneNumber: input.Phone,
			Role:        input.Role,
		}
		if user.IsDriver() {
			if !utils.IsVehicleClass(input.VehicleClass) {
				respondError(c, apperr.InvalidInput("drivers must register an economy, standard or premium vehicle"))
				return
			}
			user.VehicleClass = input.VehicleClass
		}
		if input.Location != nil {
			point, err := input.Location.point("location")
			if err != nil {
				respondError(c, err)
				return
			}
			user.Latitude = point.Lat
			user.Longitude = point.Lng
		}

		if err := user.HashPassword(); err != nil {
			respondError(c, apperr.Internal(err))
			return
		}

		if err := store.CreateUser(c.Request.Context(), user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				respondError(c, apperr.Conflict("email already in use"))
				return
			}
			respondError(c, apperr.Internal(err))
			return
		}

		token, err := tokens.issue(user)
		if err != nil {
			respondError(c, apperr.Internal(err))
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"message": "success",
			"token":   token,
			"user":    userResponse(user),
		})
	}
}

func Login(store repository.Store, tokens TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input LoginInput
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}

		user, err := store.FindUserByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(input.Email)))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				respondError(c, apperr.Unauthorized("incorrect email or password"))
				return
			}
			respondError(c, apperr.Internal(err))
			return
		}

		if err := user.CheckPassword(input.Password); err != nil {
			respondError(c, apperr.Unauthorized("incorrect email or password"))
			return
		}

		token, err := tokens.issue(user)
		if err != nil {
			respondError(c, apperr.Internal(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "success",
			"token":   token,
			"user":    userResponse(user),
		})
	}
}
