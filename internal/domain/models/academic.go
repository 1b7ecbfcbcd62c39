package models

import (
	"github.com/turtacn/portal-gateway/pkg/constants"
)

// Person is a student or staff profile as served by the academic backend.
// Person 是学术后端返回的学生或员工档案。
type Person struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
}

// FullName joins first and last name.
func (p *Person) FullName() string {
	if p == nil {
		return ""
	}
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Course is a course with the fields the portal reads.
type Course struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Semester    string   `json:"semester"`
	Description string   `json:"description,omitempty"`
	Students    []Person `json:"students,omitempty"`
}

// Grade is one graded item.
type Grade struct {
	ID         string `json:"id"`
	StudentID  string `json:"studentId"`
	CourseID   string `json:"courseId"`
	Semester   string `json:"semester"`
	GradeType  string `json:"gradeType"`
	ItemID     string `json:"itemId"`
	GradeValue string `json:"gradeValue"`
	Comments   string `json:"comments,omitempty"`
	GradedAt   string `json:"gradedAt,omitempty"`
}

// AcademicContext is the read-only snapshot of a user's academic data used by the assistant.
// AcademicContext 是助手使用的用户学术数据只读快照。
type AcademicContext struct {
	Kind    constants.IdentityKind `json:"kind"`
	Profile *Person                `json:"profile,omitempty"`
	Courses []Course               `json:"courses"`
	Grades  []Grade                `json:"grades,omitempty"`
}

// ChatMessage is one turn sent to the completion endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
