// Package entities holds the GORM models for the supporting tables of the
// consensus service: users, projects, reviews, the local taxa table, the
// effect outbox and the rows written by the effect reducer.
package entities
