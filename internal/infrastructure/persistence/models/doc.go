// Package models contains the GORM persistence models for the billing store and
// their conversions to and from domain aggregates.
package models
