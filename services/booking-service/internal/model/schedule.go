package model

import "time"

type Schedule struct {
	ID           int64
	EnrollmentID int64
	UserID       int64
	TutorID      string
	Date         time.Time
	StartMinute  int
	EndMinute    int
	CreatedAt    time.Time
}

type Enrollment struct {
	ID        int64
	UserID    int64
	CourseID  int64
	TutorID   string
	StartDate *time.Time
	EndDate   *time.Time
	Status    string
	CreatedAt time.Time
}
