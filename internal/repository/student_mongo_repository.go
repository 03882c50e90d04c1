package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/noah-isme/student-records-api/internal/models"
)

const (
	mongoStudentNumberIndex = "student_number_live"
	mongoEmailIndex         = "email_live"
	mongoPrimaryIndex       = "index: _id_ "
)

// liveDocument matches documents whose deleted_at is null or missing.
var liveDocument = bson.M{"deleted_at": nil}

// StudentMongoRepository persists student records in a MongoDB collection.
// Emails are stored lower-cased, which keeps equality lookups case-insensitive.
type StudentMongoRepository struct {
	coll *mongo.Collection
}

// NewStudentMongoRepository constructs a StudentMongoRepository over the given collection.
func NewStudentMongoRepository(coll *mongo.Collection) *StudentMongoRepository {
	return &StudentMongoRepository{coll: coll}
}

// EnsureIndexes creates the partial unique indexes that enforce live uniqueness.
func (r *StudentMongoRepository) EnsureIndexes(ctx context.Context) error {
	live := bson.M{"deleted_at": bson.M{"$type": "null"}}
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "student_number", Value: 1}},
			Options: options.Index().SetName(mongoStudentNumberIndex).SetUnique(true).SetPartialFilterExpression(live),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName(mongoEmailIndex).SetUnique(true).SetPartialFilterExpression(live),
		},
		{
			Keys: bson.D{{Key: "enrollment_status", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("ensure student indexes: %w", err)
	}
	return nil
}

// Query returns live students matching q and the total match count.
func (r *StudentMongoRepository) Query(ctx context.Context, q models.StudentQuery) ([]models.Student, int, error) {
	filter := buildMongoStudentFilter(q.Filter)

	findOpts := options.Find().SetSort(mongoSort(q.Sort))
	if q.Limit > 0 {
		findOpts.SetSkip(int64(max(q.Offset, 0))).SetLimit(int64(q.Limit))
	}

	cursor, err := r.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}
	defer cursor.Close(ctx)

	students := []models.Student{}
	if err := cursor.All(ctx, &students); err != nil {
		return nil, 0, fmt.Errorf("decode students: %w", err)
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, int(total), nil
}

func buildMongoStudentFilter(f models.StudentFilter) bson.M {
	filter := bson.M{"deleted_at": nil}
	if f.EnrollmentStatus != "" {
		filter["enrollment_status"] = f.EnrollmentStatus
	}
	if f.GradeLevel != "" {
		filter["grade_level"] = f.GradeLevel
	}
	if f.Gender != "" {
		filter["gender"] = f.Gender
	}
	if f.Search != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(f.Search), "$options": "i"}
		filter["$or"] = bson.A{
			bson.M{"full_name": pattern},
			bson.M{"student_number": pattern},
			bson.M{"email": pattern},
		}
	}
	return filter
}

func mongoSort(s models.SortSpec) bson.D {
	field, ok := studentSortColumns[s.Field]
	if !ok {
		field = "created_at"
	}
	dir := 1
	if s.Descending {
		dir = -1
	}
	return bson.D{{Key: field, Value: dir}, {Key: "_id", Value: 1}}
}

// FindByID fetches a student by id within the requested scope.
func (r *StudentMongoRepository) FindByID(ctx context.Context, id string, scope models.RecordScope) (*models.Student, error) {
	filter := bson.M{"_id": id, "deleted_at": nil}
	if scope == models.ScopeDeleted {
		filter["deleted_at"] = bson.M{"$ne": nil}
	}
	return r.findOne(ctx, filter)
}

// FindByStudentNumber fetches a live student by student number.
func (r *StudentMongoRepository) FindByStudentNumber(ctx context.Context, number string) (*models.Student, error) {
	return r.findOne(ctx, bson.M{"student_number": number, "deleted_at": nil})
}

func (r *StudentMongoRepository) findOne(ctx context.Context, filter bson.M) (*models.Student, error) {
	var student models.Student
	if err := r.coll.FindOne(ctx, filter).Decode(&student); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return &student, nil
}

// ExistsByStudentNumber checks live records for a student number, optionally excluding an id.
func (r *StudentMongoRepository) ExistsByStudentNumber(ctx context.Context, number, excludeID string) (bool, error) {
	return r.exists(ctx, bson.M{"student_number": number}, excludeID)
}

// ExistsByEmail checks live records for an email, optionally excluding an id.
func (r *StudentMongoRepository) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	return r.exists(ctx, bson.M{"email": strings.ToLower(email)}, excludeID)
}

func (r *StudentMongoRepository) exists(ctx context.Context, filter bson.M, excludeID string) (bool, error) {
	for k, v := range liveDocument {
		filter[k] = v
	}
	if excludeID != "" {
		filter["_id"] = bson.M{"$ne": excludeID}
	}
	count, err := r.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check student uniqueness: %w", err)
	}
	return count > 0, nil
}

// Insert stores a new student document.
func (r *StudentMongoRepository) Insert(ctx context.Context, student *models.Student) error {
	if _, err := r.coll.InsertOne(ctx, student); err != nil {
		return translateMongoWriteError("create student", err)
	}
	return nil
}

// Update replaces the stored document while keeping the creation audit fields untouched.
func (r *StudentMongoRepository) Update(ctx context.Context, student *models.Student) error {
	set := bson.M{
		"full_name":         student.FullName,
		"student_number":    student.StudentNumber,
		"email":             student.Email,
		"phone":             student.Phone,
		"birth_date":        student.BirthDate,
		"gender":            student.Gender,
		"enrollment_status": student.EnrollmentStatus,
		"grade_level":       student.GradeLevel,
		"subjects":          student.Subjects,
		"home_address":      student.HomeAddress,
		"parent_name":       student.ParentName,
		"parent_phone":      student.ParentPhone,
		"notes":             student.Notes,
		"updated_by":        student.UpdatedBy,
		"deleted_by":        student.DeletedBy,
		"updated_at":        student.UpdatedAt,
		"deleted_at":        student.DeletedAt,
	}
	res, err := r.coll.UpdateByID(ctx, student.ID, bson.M{"$set": set})
	if err != nil {
		return translateMongoWriteError("update student", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrRecordNotFound
	}
	return nil
}

// CountByStatus groups live students by enrollment status.
func (r *StudentMongoRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: liveDocument}},
		{{Key: "$group", Value: bson.M{"_id": "$enrollment_status", "total": bson.M{"$sum": 1}}}},
	}
	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count students by status: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Total  int    `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode status counts: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// Ping verifies connectivity with the deployment backing the collection.
func (r *StudentMongoRepository) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, nil)
}

func translateMongoWriteError(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		msg := err.Error()
		switch {
		case strings.Contains(msg, mongoStudentNumberIndex):
			return &models.DuplicateError{Field: "student_number", Err: err}
		case strings.Contains(msg, mongoEmailIndex):
			return &models.DuplicateError{Field: "email", Err: err}
		case strings.Contains(msg, mongoPrimaryIndex):
			return &models.DuplicateError{Field: "id", Err: err}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
