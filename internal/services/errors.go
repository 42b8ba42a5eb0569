package services

import "errors"

var (
	ErrInvalidState        = errors.New("order is not in a state that allows this operation")
	ErrInvalidTransition   = errors.New("status transition is not allowed")
	ErrOrderConflict       = errors.New("order already taken")
	ErrExpiredWindow       = errors.New("acceptance window expired")
	ErrNotAssignedToDriver = errors.New("order is not assigned to this driver")
	ErrForbidden           = errors.New("forbidden")
	ErrNoCandidate         = errors.New("no drivers nearby, try again later")
	ErrDriverSuspended     = errors.New("driver is suspended")
	ErrNotDriver           = errors.New("user is not a registered driver")
	ErrUnknownItem         = errors.New("menu item not found for restaurant")
	ErrUnknownRestaurant   = errors.New("restaurant not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrPaymentNotRequired  = errors.New("order payment does not require verification")
)
