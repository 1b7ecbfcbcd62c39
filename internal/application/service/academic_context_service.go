package service

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/pkg/constants"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

const studentContextQuery = `query GetStudentContext($studentId: String!) {
  student(id: $studentId) { id firstName lastName email }
  studentCourses(studentId: $studentId) { id name semester description }
  grades(studentId: $studentId) { id courseId semester gradeType itemId gradeValue comments gradedAt }
}`

const staffContextQuery = `query GetStaffContext($staffId: String!) {
  staff(id: $staffId) { id firstName lastName email }
  staffCourses(staffId: $staffId) { id name semester description students { id firstName lastName } }
}`

// GraphQLQuerier runs an authenticated GraphQL query and decodes its data.
type GraphQLQuerier interface {
	QueryInto(ctx context.Context, req models.GraphQLRequest, out interface{}) error
}

var _ GraphQLQuerier = (*Gateway)(nil)

// AcademicContextService loads the profile, courses and grades the assistant may talk about.
// Results are cached per session and subject for a short time.
type AcademicContextService struct {
	cache  *cache.Cache
	logger logger.Logger
}

func NewAcademicContextService(ttl time.Duration, log logger.Logger) *AcademicContextService {
	if ttl <= 0 {
		ttl = constants.AcademicContextCacheTTL
	}
	return &AcademicContextService{
		cache:  cache.New(ttl, 2*ttl),
		logger: log.WithComponent("academic_context"),
	}
}

// Load returns the academic context of identity, queried through q on a cache miss.
func (s *AcademicContextService) Load(ctx context.Context, sessionID string, identity *models.Identity, q GraphQLQuerier) (*models.AcademicContext, error) {
	key := sessionID + ":" + identity.ID
	if v, ok := s.cache.Get(key); ok {
		return v.(*models.AcademicContext), nil
	}

	var (
		actx *models.AcademicContext
		err  error
	)
	if identity.IsStaff() {
		actx, err = s.loadStaff(ctx, identity.ID, q)
	} else {
		actx, err = s.loadStudent(ctx, identity.ID, q)
	}
	if err != nil {
		s.logger.Warn(ctx, "Failed to load academic context",
			logger.String("kind", string(identity.Kind)),
			logger.String("error", err.Error()),
		)
		return nil, err
	}

	s.cache.SetDefault(key, actx)
	return actx, nil
}

// Invalidate drops every cached context of sessionID.
func (s *AcademicContextService) Invalidate(sessionID string) {
	prefix := sessionID + ":"
	for k := range s.cache.Items() {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			s.cache.Delete(k)
		}
	}
}

func (s *AcademicContextService) loadStudent(ctx context.Context, id string, q GraphQLQuerier) (*models.AcademicContext, error) {
	var data struct {
		Student        *models.Person  `json:"student"`
		StudentCourses []models.Course `json:"studentCourses"`
		Grades         []models.Grade  `json:"grades"`
	}
	err := q.QueryInto(ctx, models.GraphQLRequest{
		Query:         studentContextQuery,
		OperationName: "GetStudentContext",
		Variables:     map[string]interface{}{"studentId": id},
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("student context: %w", err)
	}
	return &models.AcademicContext{
		Kind:    constants.IdentityKindStudent,
		Profile: data.Student,
		Courses: nonNilCourses(data.StudentCourses),
		Grades:  data.Grades,
	}, nil
}

func (s *AcademicContextService) loadStaff(ctx context.Context, id string, q GraphQLQuerier) (*models.AcademicContext, error) {
	var data struct {
		Staff        *models.Person  `json:"staff"`
		StaffCourses []models.Course `json:"staffCourses"`
	}
	err := q.QueryInto(ctx, models.GraphQLRequest{
		Query:         staffContextQuery,
		OperationName: "GetStaffContext",
		Variables:     map[string]interface{}{"staffId": id},
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("staff context: %w", err)
	}
	return &models.AcademicContext{
		Kind:    constants.IdentityKindStaff,
		Profile: data.Staff,
		Courses: nonNilCourses(data.StaffCourses),
	}, nil
}

func nonNilCourses(c []models.Course) []models.Course {
	if c == nil {
		return []models.Course{}
	}
	return c
}
