package hangout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

const pgForeignKeyViolation = "23503"

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error
	// CreateHangout stores the hangout with version 1 together with its group associations.
	CreateHangout(ctx context.Context, h Hangout) (Hangout, error)
	GetHangout(ctx context.Context, id string) (Hangout, error)
	// UpdateHangout overwrites the scalar fields and increments the version. Group associations are untouched.
	UpdateHangout(ctx context.Context, h Hangout) (Hangout, error)
	DeleteHangout(ctx context.Context, id string) error
	AddGroup(ctx context.Context, hangoutId string, groupId string) error
	RemoveGroup(ctx context.Context, hangoutId string, groupId string) error
	// BumpVersion increments the version of the hangout and returns the new value. UpdatedAt is
	// left alone: it tracks edits of the hangout itself, set by the caller's clock.
	BumpVersion(ctx context.Context, hangoutId string) (int64, error)
	// TouchGroups moves last_modified_at of the given groups forward, strictly past its previous value.
	TouchGroups(ctx context.Context, groupIds []string, at time.Time) error
	// ListHangoutIds pages through all hangout ids in ascending order.
	ListHangoutIds(ctx context.Context, afterId string, limit int) ([]string, error)

	GetChildren(ctx context.Context, hangoutId string) (Children, error)
	GetPolls(ctx context.Context, hangoutId string) ([]Poll, error)
	GetCars(ctx context.Context, hangoutId string) ([]Car, error)
	GetRideRequests(ctx context.Context, hangoutId string) ([]RideRequest, error)
	GetAttributes(ctx context.Context, hangoutId string) ([]Attribute, error)
	GetInterestLevels(ctx context.Context, hangoutId string) ([]InterestLevel, error)

	CreatePoll(ctx context.Context, hangoutId string, poll Poll) error
	// PutVote records the user's single choice in a poll, replacing an earlier vote.
	PutVote(ctx context.Context, hangoutId string, pollId string, vote Vote) error
	RemoveVote(ctx context.Context, hangoutId string, pollId string, userId string) error
	CreateCar(ctx context.Context, hangoutId string, car Car) error
	AddRider(ctx context.Context, hangoutId string, carId string, rider Rider) error
	RemoveRider(ctx context.Context, hangoutId string, carId string, userId string) error
	PutRideRequest(ctx context.Context, hangoutId string, request RideRequest) error
	PutAttribute(ctx context.Context, hangoutId string, attribute Attribute) error
	PutInterestLevel(ctx context.Context, hangoutId string, level InterestLevel) error
}

type repositoryImpl struct {
	db *pgxpool.Pool
	tx pgx.Tx
}

func NewRepo(db *pgxpool.Pool) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) getQueryer() interface {
	Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row
} {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *repositoryImpl) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Errorf("rollback error: %v", rbErr)
		}
	}()

	txRepo := &repositoryImpl{db: r.db, tx: tx}
	if err := fn(txRepo); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const hangoutColumns = `h.id, h.title, h.description, h.visibility, h.carpool,
	h.time_kind, h.time_period, h.time_date, h.time_zone, h.start_time, h.end_time,
	h.location_name, h.location_address, h.latitude, h.longitude, h.series_id,
	h.ticket_url, h.ticket_price, h.ticket_currency, h.ticket_sold_out,
	h.creator_id, h.created_at, h.updated_at, h.version,
	COALESCE(ARRAY(SELECT hg.group_id FROM hangout_group hg WHERE hg.hangout_id = h.id ORDER BY hg.group_id), '{}')`

func scanHangout(row pgx.Row) (Hangout, error) {
	var h Hangout
	var timeKind, period, date, zone string
	var locationName, locationAddress, ticketUrl, ticketCurrency *string
	var ticketPrice *int64
	var ticketSoldOut *bool
	var latitude, longitude *float64
	err := row.Scan(
		&h.Id,
		&h.Title,
		&h.Description,
		&h.Visibility,
		&h.Carpool,
		&timeKind,
		&period,
		&date,
		&zone,
		&h.StartTime,
		&h.EndTime,
		&locationName,
		&locationAddress,
		&latitude,
		&longitude,
		&h.SeriesId,
		&ticketUrl,
		&ticketPrice,
		&ticketCurrency,
		&ticketSoldOut,
		&h.CreatorId,
		&h.CreatedAt,
		&h.UpdatedAt,
		&h.Version,
		&h.GroupIds,
	)
	if err != nil {
		return Hangout{}, err
	}
	h.StartTime = utcPtr(h.StartTime)
	h.EndTime = utcPtr(h.EndTime)
	h.CreatedAt = h.CreatedAt.UTC()
	h.UpdatedAt = h.UpdatedAt.UTC()

	h.TimeSpec = TimeSpec{Kind: TimeKind(timeKind)}
	switch h.TimeSpec.Kind {
	case TimeExact:
		h.TimeSpec.Start = h.StartTime
		h.TimeSpec.End = h.EndTime
	case TimeFuzzy:
		h.TimeSpec.Period = Period(period)
		h.TimeSpec.Date = date
		h.TimeSpec.Zone = zone
	}
	if locationName != nil || locationAddress != nil || latitude != nil || longitude != nil {
		h.Location = &Location{
			Name:      deref(locationName),
			Address:   deref(locationAddress),
			Latitude:  latitude,
			Longitude: longitude,
		}
	}
	if ticketUrl != nil {
		h.Ticketing = &Ticketing{
			Url:        *ticketUrl,
			PriceCents: derefInt(ticketPrice),
			Currency:   deref(ticketCurrency),
			SoldOut:    ticketSoldOut != nil && *ticketSoldOut,
		}
	}
	return h, nil
}

func (r *repositoryImpl) CreateHangout(ctx context.Context, h Hangout) (Hangout, error) {
	query := `INSERT INTO hangout (
				id, title, description, visibility, carpool,
				time_kind, time_period, time_date, time_zone, start_time, end_time,
				location_name, location_address, latitude, longitude, series_id,
				ticket_url, ticket_price, ticket_currency, ticket_sold_out,
				creator_id, created_at, updated_at, version)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $22, 1)`
	args := append([]any{h.Id}, hangoutFieldArgs(h)...)
	args = append(args, h.CreatorId, h.CreatedAt)
	if _, err := r.getQueryer().Exec(ctx, query, args...); err != nil {
		log.Errorf("failed to insert hangout %s: %v", h.Id, err)
		return Hangout{}, fmt.Errorf("failed to insert hangout: %w", err)
	}
	for _, groupId := range h.GroupIds {
		if err := r.AddGroup(ctx, h.Id, groupId); err != nil {
			return Hangout{}, err
		}
	}
	return r.GetHangout(ctx, h.Id)
}

// hangoutFieldArgs returns the user editable columns in insert order, title through ticket_sold_out.
func hangoutFieldArgs(h Hangout) []any {
	var period, date, zone string
	if h.TimeSpec.Kind == TimeFuzzy {
		period, date, zone = string(h.TimeSpec.Period), h.TimeSpec.Date, h.TimeSpec.Zone
	}
	timeKind := h.TimeSpec.Kind
	if timeKind == "" {
		timeKind = TimeNone
	}
	var locationName, locationAddress *string
	var latitude, longitude *float64
	if h.Location != nil {
		locationName, locationAddress = &h.Location.Name, &h.Location.Address
		latitude, longitude = h.Location.Latitude, h.Location.Longitude
	}
	var ticketUrl, ticketCurrency *string
	var ticketPrice *int64
	var ticketSoldOut *bool
	if h.Ticketing != nil {
		ticketUrl, ticketCurrency = &h.Ticketing.Url, &h.Ticketing.Currency
		ticketPrice, ticketSoldOut = &h.Ticketing.PriceCents, &h.Ticketing.SoldOut
	}
	return []any{
		h.Title, h.Description, string(h.Visibility), h.Carpool,
		string(timeKind), period, date, zone, h.StartTime, h.EndTime,
		locationName, locationAddress, latitude, longitude, h.SeriesId,
		ticketUrl, ticketPrice, ticketCurrency, ticketSoldOut,
	}
}

func (r *repositoryImpl) GetHangout(ctx context.Context, id string) (Hangout, error) {
	query := `SELECT ` + hangoutColumns + ` FROM hangout h WHERE h.id = $1`
	h, err := scanHangout(r.getQueryer().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Hangout{}, ErrHangoutNotFound
		}
		log.Errorf("failed to get hangout %s: %v", id, err)
		return Hangout{}, fmt.Errorf("failed to get hangout: %w", err)
	}
	return h, nil
}

func (r *repositoryImpl) UpdateHangout(ctx context.Context, h Hangout) (Hangout, error) {
	query := `UPDATE hangout SET
				title = $2, description = $3, visibility = $4, carpool = $5,
				time_kind = $6, time_period = $7, time_date = $8, time_zone = $9, start_time = $10, end_time = $11,
				location_name = $12, location_address = $13, latitude = $14, longitude = $15, series_id = $16,
				ticket_url = $17, ticket_price = $18, ticket_currency = $19, ticket_sold_out = $20,
				updated_at = $21, version = version + 1
			  WHERE id = $1`
	args := append([]any{h.Id}, hangoutFieldArgs(h)...)
	args = append(args, h.UpdatedAt)
	result, err := r.getQueryer().Exec(ctx, query, args...)
	if err != nil {
		log.Errorf("failed to update hangout %s: %v", h.Id, err)
		return Hangout{}, fmt.Errorf("failed to update hangout: %w", err)
	}
	if result.RowsAffected() == 0 {
		return Hangout{}, ErrHangoutNotFound
	}
	return r.GetHangout(ctx, h.Id)
}

func (r *repositoryImpl) DeleteHangout(ctx context.Context, id string) error {
	result, err := r.getQueryer().Exec(ctx, `DELETE FROM hangout WHERE id = $1`, id)
	if err != nil {
		log.Errorf("failed to delete hangout %s: %v", id, err)
		return fmt.Errorf("failed to delete hangout: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrHangoutNotFound
	}
	return nil
}

func (r *repositoryImpl) AddGroup(ctx context.Context, hangoutId string, groupId string) error {
	query := `INSERT INTO hangout_group (hangout_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := r.getQueryer().Exec(ctx, query, hangoutId, groupId); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			if pgErr.ConstraintName == "hangout_group_hangout_id_fkey" {
				return ErrHangoutNotFound
			}
			return fmt.Errorf("%w: %s", ErrUnknownGroup, groupId)
		}
		log.Errorf("failed to associate hangout %s with group %s: %v", hangoutId, groupId, err)
		return fmt.Errorf("failed to associate group: %w", err)
	}
	return nil
}

func (r *repositoryImpl) RemoveGroup(ctx context.Context, hangoutId string, groupId string) error {
	result, err := r.getQueryer().Exec(ctx,
		`DELETE FROM hangout_group WHERE hangout_id = $1 AND group_id = $2`, hangoutId, groupId)
	if err != nil {
		log.Errorf("failed to disassociate hangout %s from group %s: %v", hangoutId, groupId, err)
		return fmt.Errorf("failed to disassociate group: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrHangoutNotFound
	}
	return nil
}

func (r *repositoryImpl) BumpVersion(ctx context.Context, hangoutId string) (int64, error) {
	var version int64
	err := r.getQueryer().QueryRow(ctx,
		`UPDATE hangout SET version = version + 1 WHERE id = $1 RETURNING version`,
		hangoutId,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrHangoutNotFound
		}
		log.Errorf("failed to bump version of hangout %s: %v", hangoutId, err)
		return 0, fmt.Errorf("failed to bump hangout version: %w", err)
	}
	return version, nil
}

func (r *repositoryImpl) TouchGroups(ctx context.Context, groupIds []string, at time.Time) error {
	if len(groupIds) == 0 {
		return nil
	}
	query := `UPDATE groups
			  SET last_modified_at = GREATEST($2::timestamptz, last_modified_at + INTERVAL '1 microsecond')
			  WHERE id = ANY($1)`
	if _, err := r.getQueryer().Exec(ctx, query, groupIds, at); err != nil {
		log.Errorf("failed to touch groups %v: %v", groupIds, err)
		return fmt.Errorf("failed to touch groups: %w", err)
	}
	return nil
}

func (r *repositoryImpl) ListHangoutIds(ctx context.Context, afterId string, limit int) ([]string, error) {
	rows, err := r.getQueryer().Query(ctx,
		`SELECT id FROM hangout WHERE id > $1 ORDER BY id LIMIT $2`, afterId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list hangout ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list hangout ids: %w", err)
	}
	return ids, nil
}

func (r *repositoryImpl) GetChildren(ctx context.Context, hangoutId string) (Children, error) {
	var children Children
	var err error
	if children.Polls, err = r.GetPolls(ctx, hangoutId); err != nil {
		return Children{}, err
	}
	if children.Cars, err = r.GetCars(ctx, hangoutId); err != nil {
		return Children{}, err
	}
	if children.RideRequests, err = r.GetRideRequests(ctx, hangoutId); err != nil {
		return Children{}, err
	}
	if children.Attributes, err = r.GetAttributes(ctx, hangoutId); err != nil {
		return Children{}, err
	}
	if children.InterestLevels, err = r.GetInterestLevels(ctx, hangoutId); err != nil {
		return Children{}, err
	}
	return children, nil
}

func (r *repositoryImpl) GetPolls(ctx context.Context, hangoutId string) ([]Poll, error) {
	query := `SELECT p.id, p.question, o.id, o.text,
				COALESCE(ARRAY(SELECT v.user_id FROM poll_vote v WHERE v.option_id = o.id ORDER BY v.user_id), '{}')
			  FROM poll p
			  LEFT JOIN poll_option o ON o.poll_id = p.id
			  WHERE p.hangout_id = $1
			  ORDER BY p.id, o.position`
	rows, err := r.getQueryer().Query(ctx, query, hangoutId)
	if err != nil {
		log.Errorf("failed to get polls of hangout %s: %v", hangoutId, err)
		return nil, fmt.Errorf("failed to get polls: %w", err)
	}
	defer rows.Close()

	var polls []Poll
	for rows.Next() {
		var pollId, question string
		var optionId, optionText *string
		var voters []string
		if err := rows.Scan(&pollId, &question, &optionId, &optionText, &voters); err != nil {
			return nil, fmt.Errorf("failed to scan poll: %w", err)
		}
		if len(polls) == 0 || polls[len(polls)-1].Id != pollId {
			polls = append(polls, Poll{Id: pollId, Question: question})
		}
		if optionId == nil {
			continue
		}
		option := PollOption{Id: *optionId, Text: deref(optionText)}
		for _, voter := range voters {
			option.Votes = append(option.Votes, Vote{OptionId: *optionId, UserId: voter})
		}
		last := &polls[len(polls)-1]
		last.Options = append(last.Options, option)
	}
	return polls, rows.Err()
}

func (r *repositoryImpl) GetCars(ctx context.Context, hangoutId string) ([]Car, error) {
	query := `SELECT c.id, c.driver_id, c.seats, c.note,
				COALESCE(ARRAY(SELECT cr.user_id FROM car_rider cr WHERE cr.car_id = c.id ORDER BY cr.user_id), '{}')
			  FROM car c
			  WHERE c.hangout_id = $1
			  ORDER BY c.id`
	rows, err := r.getQueryer().Query(ctx, query, hangoutId)
	if err != nil {
		log.Errorf("failed to get cars of hangout %s: %v", hangoutId, err)
		return nil, fmt.Errorf("failed to get cars: %w", err)
	}
	defer rows.Close()

	var cars []Car
	for rows.Next() {
		var car Car
		var riders []string
		if err := rows.Scan(&car.Id, &car.DriverId, &car.Seats, &car.Note, &riders); err != nil {
			return nil, fmt.Errorf("failed to scan car: %w", err)
		}
		for _, rider := range riders {
			car.Riders = append(car.Riders, Rider{UserId: rider})
		}
		cars = append(cars, car)
	}
	return cars, rows.Err()
}

func (r *repositoryImpl) GetRideRequests(ctx context.Context, hangoutId string) ([]RideRequest, error) {
	rows, err := r.getQueryer().Query(ctx,
		`SELECT user_id, note FROM ride_request WHERE hangout_id = $1 ORDER BY user_id`, hangoutId)
	if err != nil {
		return nil, fmt.Errorf("failed to get ride requests: %w", err)
	}
	requests, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RideRequest, error) {
		var request RideRequest
		err := row.Scan(&request.UserId, &request.Note)
		return request, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan ride requests: %w", err)
	}
	return requests, nil
}

func (r *repositoryImpl) GetAttributes(ctx context.Context, hangoutId string) ([]Attribute, error) {
	rows, err := r.getQueryer().Query(ctx,
		`SELECT key, value FROM hangout_attribute WHERE hangout_id = $1 ORDER BY key`, hangoutId)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes: %w", err)
	}
	attributes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Attribute, error) {
		var attribute Attribute
		err := row.Scan(&attribute.Key, &attribute.Value)
		return attribute, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan attributes: %w", err)
	}
	return attributes, nil
}

func (r *repositoryImpl) GetInterestLevels(ctx context.Context, hangoutId string) ([]InterestLevel, error) {
	rows, err := r.getQueryer().Query(ctx,
		`SELECT user_id, level FROM interest_level WHERE hangout_id = $1 ORDER BY user_id`, hangoutId)
	if err != nil {
		return nil, fmt.Errorf("failed to get interest levels: %w", err)
	}
	levels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (InterestLevel, error) {
		var level InterestLevel
		err := row.Scan(&level.UserId, &level.Level)
		return level, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan interest levels: %w", err)
	}
	return levels, nil
}

func (r *repositoryImpl) CreatePoll(ctx context.Context, hangoutId string, poll Poll) error {
	_, err := r.getQueryer().Exec(ctx,
		`INSERT INTO poll (id, hangout_id, question) VALUES ($1, $2, $3)`, poll.Id, hangoutId, poll.Question)
	if err != nil {
		return r.childWriteError("create poll", hangoutId, err)
	}
	for i, option := range poll.Options {
		_, err := r.getQueryer().Exec(ctx,
			`INSERT INTO poll_option (id, poll_id, text, position) VALUES ($1, $2, $3, $4)`,
			option.Id, poll.Id, option.Text, i)
		if err != nil {
			return r.childWriteError("create poll option", hangoutId, err)
		}
	}
	return nil
}

func (r *repositoryImpl) PutVote(ctx context.Context, hangoutId string, pollId string, vote Vote) error {
	var exists bool
	err := r.getQueryer().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM poll_option o JOIN poll p ON p.id = o.poll_id
			WHERE o.id = $1 AND p.id = $2 AND p.hangout_id = $3)`,
		vote.OptionId, pollId, hangoutId,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check poll option: %w", err)
	}
	if !exists {
		return ErrChildNotFound
	}
	if err := r.RemoveVote(ctx, hangoutId, pollId, vote.UserId); err != nil && !errors.Is(err, ErrChildNotFound) {
		return err
	}
	_, err = r.getQueryer().Exec(ctx,
		`INSERT INTO poll_vote (option_id, user_id) VALUES ($1, $2)`, vote.OptionId, vote.UserId)
	if err != nil {
		return r.childWriteError("cast vote", hangoutId, err)
	}
	return nil
}

func (r *repositoryImpl) RemoveVote(ctx context.Context, hangoutId string, pollId string, userId string) error {
	query := `DELETE FROM poll_vote v
			  USING poll_option o, poll p
			  WHERE v.option_id = o.id AND o.poll_id = p.id
			    AND p.id = $1 AND p.hangout_id = $2 AND v.user_id = $3`
	result, err := r.getQueryer().Exec(ctx, query, pollId, hangoutId, userId)
	if err != nil {
		return r.childWriteError("remove vote", hangoutId, err)
	}
	if result.RowsAffected() == 0 {
		return ErrChildNotFound
	}
	return nil
}

func (r *repositoryImpl) CreateCar(ctx context.Context, hangoutId string, car Car) error {
	_, err := r.getQueryer().Exec(ctx,
		`INSERT INTO car (id, hangout_id, driver_id, seats, note) VALUES ($1, $2, $3, $4, $5)`,
		car.Id, hangoutId, car.DriverId, car.Seats, car.Note)
	if err != nil {
		return r.childWriteError("create car", hangoutId, err)
	}
	return nil
}

func (r *repositoryImpl) AddRider(ctx context.Context, hangoutId string, carId string, rider Rider) error {
	var seats, taken int
	var alreadyRiding bool
	err := r.getQueryer().QueryRow(ctx,
		`SELECT c.seats,
				(SELECT count(*) FROM car_rider cr WHERE cr.car_id = c.id),
				EXISTS (SELECT 1 FROM car_rider cr WHERE cr.car_id = c.id AND cr.user_id = $3)
		 FROM car c WHERE c.id = $1 AND c.hangout_id = $2 FOR UPDATE`,
		carId, hangoutId, rider.UserId,
	).Scan(&seats, &taken, &alreadyRiding)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrChildNotFound
		}
		return fmt.Errorf("failed to read car: %w", err)
	}
	if alreadyRiding {
		return nil
	}
	if taken >= seats {
		return ErrCarFull
	}
	_, err = r.getQueryer().Exec(ctx,
		`INSERT INTO car_rider (car_id, user_id) VALUES ($1, $2)`, carId, rider.UserId)
	if err != nil {
		return r.childWriteError("add rider", hangoutId, err)
	}
	return nil
}

func (r *repositoryImpl) RemoveRider(ctx context.Context, hangoutId string, carId string, userId string) error {
	result, err := r.getQueryer().Exec(ctx,
		`DELETE FROM car_rider cr USING car c
		 WHERE cr.car_id = c.id AND c.id = $1 AND c.hangout_id = $2 AND cr.user_id = $3`,
		carId, hangoutId, userId)
	if err != nil {
		return r.childWriteError("remove rider", hangoutId, err)
	}
	if result.RowsAffected() == 0 {
		return ErrChildNotFound
	}
	return nil
}

func (r *repositoryImpl) PutRideRequest(ctx context.Context, hangoutId string, request RideRequest) error {
	_, err := r.getQueryer().Exec(ctx,
		`INSERT INTO ride_request (hangout_id, user_id, note) VALUES ($1, $2, $3)
		 ON CONFLICT (hangout_id, user_id) DO UPDATE SET note = EXCLUDED.note`,
		hangoutId, request.UserId, request.Note)
	if err != nil {
		return r.childWriteError("request ride", hangoutId, err)
	}
	return nil
}

func (r *repositoryImpl) PutAttribute(ctx context.Context, hangoutId string, attribute Attribute) error {
	_, err := r.getQueryer().Exec(ctx,
		`INSERT INTO hangout_attribute (hangout_id, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (hangout_id, key) DO UPDATE SET value = EXCLUDED.value`,
		hangoutId, attribute.Key, attribute.Value)
	if err != nil {
		return r.childWriteError("set attribute", hangoutId, err)
	}
	return nil
}

func (r *repositoryImpl) PutInterestLevel(ctx context.Context, hangoutId string, level InterestLevel) error {
	_, err := r.getQueryer().Exec(ctx,
		`INSERT INTO interest_level (hangout_id, user_id, level) VALUES ($1, $2, $3)
		 ON CONFLICT (hangout_id, user_id) DO UPDATE SET level = EXCLUDED.level`,
		hangoutId, level.UserId, string(level.Level))
	if err != nil {
		return r.childWriteError("set interest", hangoutId, err)
	}
	return nil
}

func (r *repositoryImpl) childWriteError(op string, hangoutId string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return ErrHangoutNotFound
	}
	log.Errorf("failed to %s for hangout %s: %v", op, hangoutId, err)
	return fmt.Errorf("failed to %s: %w", op, err)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int64) int64 {
	if i == nil {
		return 0
	}
	return *i
}
