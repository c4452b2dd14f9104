package roster

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

// Store is the SQL-backed persistence layer for accounts (the "jids"
// table) and rosters (the "roster"/"rostergroups"/"rostergroupitems"
// tables), grounded on the four-table schema pjs/db.py's SQLite database
// uses. It is driver-agnostic: the placeholder format is selected from the
// configured driver name so the same query-building code runs against
// sqlite3, mysql, or postgres.
type Store struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// NewStore wraps db, building queries with the placeholder style the named
// driver expects ("postgres" uses $1-style, everything else ?-style).
func NewStore(db *sql.DB, driver string) *Store {
	format := sq.Question
	if driver == "postgres" || driver == "pq" {
		format = sq.Dollar
	}
	return &Store{db: db, builder: sq.StatementBuilder.PlaceholderFormat(format)}
}

// JIDExists implements jid.ExistenceChecker: whether bareJID has a row in
// "jids" with a non-empty password (i.e. is a real registered account),
// matching pjs/jid.py's exists().
func (s *Store) JIDExists(bareJID string) (bool, error) {
	var id int64
	err := s.builder.Select("id").From("jids").
		Where(sq.Eq{"jid": bareJID}).Where(sq.NotEq{"password": ""}).
		RunWith(s.db).QueryRow().Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "roster: JIDExists")
	}
	return true, nil
}

// Password implements auth.CredentialStore.
func (s *Store) Password(bareJID string) (string, bool, error) {
	var password string
	err := s.builder.Select("password").From("jids").
		Where(sq.Eq{"jid": bareJID}).
		RunWith(s.db).QueryRow().Scan(&password)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "roster: Password")
	}
	return password, true, nil
}

// userID looks up the internal "jids" row id for bareJID, creating the
// account row (with an empty, unusable password) if it doesn't already
// exist — contacts referenced by a roster entry don't need to be local
// accounts.
func (s *Store) userID(bareJID string) (int64, error) {
	var id int64
	err := s.builder.Select("id").From("jids").Where(sq.Eq{"jid": bareJID}).
		RunWith(s.db).QueryRow().Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, errors.Wrap(err, "roster: userID lookup")
	}
	res, err := s.builder.Insert("jids").Columns("jid", "password").
		Values(bareJID, "").RunWith(s.db).Exec()
	if err != nil {
		return 0, errors.Wrap(err, "roster: userID insert")
	}
	return res.LastInsertId()
}

// GetContactInfo returns the roster entry userJID has for contactJID, or
// ok=false if there is none.
func (s *Store) GetContactInfo(userJID, contactJID string) (item *Item, ok bool, err error) {
	uid, err := s.userID(userJID)
	if err != nil {
		return nil, false, err
	}

	var contactID int64
	var name string
	var sub int
	err = s.builder.Select("roster.contactid", "roster.name", "roster.subscription").
		From("roster").Join("jids ON jids.id = roster.contactid").
		Where(sq.Eq{"roster.userid": uid, "jids.jid": contactJID}).
		RunWith(s.db).QueryRow().Scan(&contactID, &name, &sub)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "roster: GetContactInfo")
	}

	groups, err := s.groupsFor(uid, contactID)
	if err != nil {
		return nil, false, err
	}
	return &Item{ID: contactID, JID: contactJID, Name: name, Subscription: Subscription(sub), Groups: groups}, true, nil
}

func (s *Store) groupsFor(uid, contactID int64) ([]string, error) {
	rows, err := s.builder.Select("rgs.name").From("rostergroups AS rgs").
		Join("rostergroupitems AS rgi ON rgi.groupid = rgs.groupid").
		Where(sq.Eq{"rgs.userid": uid, "rgi.contactid": contactID}).
		RunWith(s.db).Query()
	if err != nil {
		return nil, errors.Wrap(err, "roster: groupsFor")
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, errors.Wrap(err, "roster: groupsFor scan")
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// UpdateContact adds or updates userJID's roster entry for contactJID with
// the given display name and group membership, creating the contact's
// "jids" row (with an unusable empty password) if this is the first time
// it's referenced. The subscription state itself is never touched here —
// that's driven exclusively by incoming/outgoing <presence/> per RFC 3921
// §9, matching pjs/roster.py's comment to that effect.
func (s *Store) UpdateContact(userJID, contactJID, name string, groups []string) (int64, error) {
	uid, err := s.userID(userJID)
	if err != nil {
		return 0, err
	}
	cid, err := s.userID(contactJID)
	if err != nil {
		return 0, err
	}

	existing, ok, err := s.GetContactInfo(userJID, contactJID)
	if err != nil {
		return 0, err
	}
	if ok {
		if _, err := s.builder.Update("roster").Set("name", name).
			Where(sq.Eq{"userid": uid, "contactid": cid}).RunWith(s.db).Exec(); err != nil {
			return 0, errors.Wrap(err, "roster: UpdateContact update")
		}
		_ = existing
	} else {
		if _, err := s.builder.Insert("roster").
			Columns("userid", "contactid", "name", "subscription").
			Values(uid, cid, name, int(SubNone)).RunWith(s.db).Exec(); err != nil {
			return 0, errors.Wrap(err, "roster: UpdateContact insert")
		}
	}

	if _, err := s.builder.Delete("rostergroupitems").
		Where("contactid = ? AND groupid IN (SELECT groupid FROM rostergroups WHERE userid = ?)", cid, uid).
		RunWith(s.db).Exec(); err != nil {
		return 0, errors.Wrap(err, "roster: UpdateContact clear groups")
	}
	for _, group := range groups {
		gid, err := s.groupID(uid, group)
		if err != nil {
			return 0, err
		}
		if _, err := s.builder.Insert("rostergroupitems").Columns("groupid", "contactid").
			Values(gid, cid).RunWith(s.db).Exec(); err != nil {
			return 0, errors.Wrap(err, "roster: UpdateContact add group")
		}
	}
	return cid, nil
}

func (s *Store) groupID(uid int64, name string) (int64, error) {
	var gid int64
	err := s.builder.Select("groupid").From("rostergroups").
		Where(sq.Eq{"userid": uid, "name": name}).RunWith(s.db).QueryRow().Scan(&gid)
	if err == nil {
		return gid, nil
	}
	if err != sql.ErrNoRows {
		return 0, errors.Wrap(err, "roster: groupID lookup")
	}
	res, err := s.builder.Insert("rostergroups").Columns("userid", "name").
		Values(uid, name).RunWith(s.db).Exec()
	if err != nil {
		return 0, errors.Wrap(err, "roster: groupID insert")
	}
	return res.LastInsertId()
}

// RemoveContact deletes userJID's roster entry for contactJID and its group
// memberships, returning the contact's internal id.
func (s *Store) RemoveContact(userJID, contactJID string) (int64, error) {
	item, ok, err := s.GetContactInfo(userJID, contactJID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New("roster: no such contact in user's roster")
	}
	uid, err := s.userID(userJID)
	if err != nil {
		return 0, err
	}

	if _, err := s.builder.Delete("rostergroupitems").
		Where("groupid IN (SELECT rgs.groupid FROM rostergroups AS rgs "+
			"JOIN rostergroupitems AS rgi ON rgi.groupid = rgs.groupid WHERE rgs.userid = ?) AND contactid = ?",
			uid, item.ID).RunWith(s.db).Exec(); err != nil {
		return 0, errors.Wrap(err, "roster: RemoveContact groups")
	}
	if _, err := s.builder.Delete("roster").
		Where(sq.Eq{"userid": uid, "contactid": item.ID}).RunWith(s.db).Exec(); err != nil {
		return 0, errors.Wrap(err, "roster: RemoveContact")
	}
	return item.ID, nil
}

// SetSubscription updates the subscription state of userJID's roster entry
// for the contact with internal id contactID.
func (s *Store) SetSubscription(userJID string, contactID int64, sub Subscription) error {
	uid, err := s.userID(userJID)
	if err != nil {
		return err
	}
	_, err = s.builder.Update("roster").Set("subscription", int(sub)).
		Where(sq.Eq{"userid": uid, "contactid": contactID}).RunWith(s.db).Exec()
	return errors.Wrap(err, "roster: SetSubscription")
}

// GetPresenceSubscribers returns the JIDs of contacts who are entitled to
// userJID's presence (subscription 'from', 'from_pending_out' or 'both').
func (s *Store) GetPresenceSubscribers(userJID string) ([]string, error) {
	uid, err := s.userID(userJID)
	if err != nil {
		return nil, err
	}
	rows, err := s.builder.Select("jids.jid").From("roster").
		Join("jids ON jids.id = roster.contactid").
		Where(sq.Eq{"roster.userid": uid, "roster.subscription": []int{int(SubFrom), int(SubFromPendingOut), int(SubBoth)}}).
		RunWith(s.db).Query()
	if err != nil {
		return nil, errors.Wrap(err, "roster: GetPresenceSubscribers")
	}
	defer rows.Close()

	var jids []string
	for rows.Next() {
		var j string
		if err := rows.Scan(&j); err != nil {
			return nil, errors.Wrap(err, "roster: GetPresenceSubscribers scan")
		}
		jids = append(jids, j)
	}
	return jids, rows.Err()
}

// GetSubscribedTo returns the JIDs of contacts userJID is subscribed to
// (subscription 'to', 'to_pending_in' or 'both'), the set that gets
// probed on userJID's first presence per the subscription automaton's
// initial-presence side effects.
func (s *Store) GetSubscribedTo(userJID string) ([]string, error) {
	uid, err := s.userID(userJID)
	if err != nil {
		return nil, err
	}
	rows, err := s.builder.Select("jids.jid").From("roster").
		Join("jids ON jids.id = roster.contactid").
		Where(sq.Eq{"roster.userid": uid, "roster.subscription": []int{int(SubTo), int(SubToPendingIn), int(SubBoth)}}).
		RunWith(s.db).Query()
	if err != nil {
		return nil, errors.Wrap(err, "roster: GetSubscribedTo")
	}
	defer rows.Close()

	var jids []string
	for rows.Next() {
		var j string
		if err := rows.Scan(&j); err != nil {
			return nil, errors.Wrap(err, "roster: GetSubscribedTo scan")
		}
		jids = append(jids, j)
	}
	return jids, rows.Err()
}

// LoadRoster returns every entry of userJID's roster whose subscription
// includes a 'to' component (the only entries a roster IQ result needs,
// per pjs/roster.py's loadRoster: TO, TO_PENDING_IN, BOTH).
func (s *Store) LoadRoster(userJID string) ([]*Item, error) {
	rows, err := s.builder.Select("roster.contactid", "roster.name", "roster.subscription", "contactjids.jid").
		From("roster").
		Join("jids AS userjids ON roster.userid = userjids.id").
		Join("jids AS contactjids ON roster.contactid = contactjids.id").
		Where(sq.Eq{"userjids.jid": userJID, "roster.subscription": []int{int(SubTo), int(SubToPendingIn), int(SubBoth)}}).
		RunWith(s.db).Query()
	if err != nil {
		return nil, errors.Wrap(err, "roster: LoadRoster")
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var it Item
		var sub int
		if err := rows.Scan(&it.ID, &it.Name, &sub, &it.JID); err != nil {
			return nil, errors.Wrap(err, "roster: LoadRoster scan")
		}
		it.Subscription = Subscription(sub)
		items = append(items, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	uid, err := s.userID(userJID)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		groups, err := s.groupsFor(uid, it.ID)
		if err != nil {
			return nil, err
		}
		it.Groups = groups
	}
	return items, nil
}
