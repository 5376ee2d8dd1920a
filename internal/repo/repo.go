package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"jobline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// execer is satisfied by both *sql.DB and *sql.Tx so entity writes can run
// inside the orchestrator's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,email,role,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Name, u.Email, string(u.Role), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,role,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.Role = domain.Role(role)
	return u, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,email,role,created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = domain.Role(role)
		res = append(res, u)
	}
	return res, rows.Err()
}

const jobColumns = `id,created_by,title,description,COALESCE(location,''),COALESCE(area,''),required_skills_json,budget_currency,budget_amount,status,current_state,assigned_contractor,applicants_json,created_at,updated_at`

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var j domain.Job
	var skillsJSON, applicantsJSON, assigned sql.NullString
	err := scan(&j.ID, &j.CreatedBy, &j.Title, &j.Description, &j.Location, &j.Area,
		&skillsJSON, &j.Budget.Currency, &j.Budget.Amount, &j.Status, &j.CurrentState,
		&assigned, &applicantsJSON, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if assigned.Valid {
		j.AssignedContractor = &assigned.String
	}
	if err := unmarshalInto(skillsJSON, &j.RequiredSkills); err != nil {
		return j, err
	}
	if err := unmarshalInto(applicantsJSON, &j.Applicants); err != nil {
		return j, err
	}
	return j, nil
}

func (r Repo) InsertJob(ctx context.Context, j domain.Job) error {
	skills, err := marshalOrNil(j.RequiredSkills)
	if err != nil {
		return err
	}
	applicants, err := marshalOrNil(j.Applicants)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO jobs(id,created_by,title,description,location,area,required_skills_json,budget_currency,budget_amount,status,current_state,assigned_contractor,applicants_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.CreatedBy, j.Title, j.Description, nullable(j.Location), nullable(j.Area),
		skills, j.Budget.Currency, j.Budget.Amount, j.Status, j.CurrentState,
		nullablePtr(j.AssignedContractor), applicants, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

func (r Repo) UpdateJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	skills, err := marshalOrNil(j.RequiredSkills)
	if err != nil {
		return err
	}
	applicants, err := marshalOrNil(j.Applicants)
	if err != nil {
		return err
	}
	var e execer = r.DB
	if tx != nil {
		e = tx
	}
	_, err = e.ExecContext(ctx, `UPDATE jobs SET title=?,description=?,location=?,area=?,required_skills_json=?,budget_currency=?,budget_amount=?,status=?,current_state=?,assigned_contractor=?,applicants_json=?,updated_at=? WHERE id=?`,
		j.Title, j.Description, nullable(j.Location), nullable(j.Area), skills,
		j.Budget.Currency, j.Budget.Amount, j.Status, j.CurrentState,
		nullablePtr(j.AssignedContractor), applicants, j.UpdatedAt, j.ID)
	return err
}

func (r Repo) ListJobs(ctx context.Context, state string) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC`
	args := []any{}
	if state != "" {
		query = `SELECT ` + jobColumns + ` FROM jobs WHERE current_state=? ORDER BY created_at DESC`
		args = append(args, state)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

const workOrderColumns = `id,job_id,agent_id,contractor_id,number,scope_of_work,COALESCE(terms,''),status,current_state,attachments_json,created_at,updated_at`

func scanWorkOrder(scan func(dest ...any) error) (domain.WorkOrder, error) {
	var wo domain.WorkOrder
	var attachmentsJSON sql.NullString
	err := scan(&wo.ID, &wo.JobID, &wo.AgentID, &wo.ContractorID, &wo.Number,
		&wo.ScopeOfWork, &wo.Terms, &wo.Status, &wo.CurrentState,
		&attachmentsJSON, &wo.CreatedAt, &wo.UpdatedAt)
	if err == sql.ErrNoRows {
		return wo, ErrNotFound
	}
	if err != nil {
		return wo, err
	}
	if err := unmarshalInto(attachmentsJSON, &wo.Attachments); err != nil {
		return wo, err
	}
	return wo, nil
}

func (r Repo) InsertWorkOrder(ctx context.Context, wo domain.WorkOrder) error {
	attachments, err := marshalOrNil(wo.Attachments)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO work_orders(id,job_id,agent_id,contractor_id,number,scope_of_work,terms,status,current_state,attachments_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		wo.ID, wo.JobID, wo.AgentID, wo.ContractorID, wo.Number, wo.ScopeOfWork,
		nullable(wo.Terms), wo.Status, wo.CurrentState, attachments, wo.CreatedAt, wo.UpdatedAt)
	return err
}

func (r Repo) GetWorkOrder(ctx context.Context, id string) (domain.WorkOrder, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id=?`, id)
	return scanWorkOrder(row.Scan)
}

func (r Repo) GetWorkOrderByJob(ctx context.Context, jobID string) (domain.WorkOrder, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE job_id=?`, jobID)
	return scanWorkOrder(row.Scan)
}

func (r Repo) UpdateWorkOrder(ctx context.Context, tx *sql.Tx, wo domain.WorkOrder) error {
	attachments, err := marshalOrNil(wo.Attachments)
	if err != nil {
		return err
	}
	var e execer = r.DB
	if tx != nil {
		e = tx
	}
	_, err = e.ExecContext(ctx, `UPDATE work_orders SET scope_of_work=?,terms=?,status=?,current_state=?,attachments_json=?,updated_at=? WHERE id=?`,
		wo.ScopeOfWork, nullable(wo.Terms), wo.Status, wo.CurrentState, attachments, wo.UpdatedAt, wo.ID)
	return err
}

func (r Repo) ListWorkOrdersFor(ctx context.Context, userID string) ([]domain.WorkOrder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE agent_id=? OR contractor_id=? ORDER BY created_at DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, wo)
	}
	return res, rows.Err()
}

const invoiceColumns = `id,job_id,work_order_id,agent_id,contractor_id,number,items_json,currency,total_amount,status,current_state,COALESCE(notes,''),approved_at,paid_at,created_at,updated_at`

func scanInvoice(scan func(dest ...any) error) (domain.Invoice, error) {
	var inv domain.Invoice
	var itemsJSON, approvedAt, paidAt sql.NullString
	err := scan(&inv.ID, &inv.JobID, &inv.WorkOrderID, &inv.AgentID, &inv.ContractorID,
		&inv.Number, &itemsJSON, &inv.Currency, &inv.TotalAmount, &inv.Status,
		&inv.CurrentState, &inv.Notes, &approvedAt, &paidAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	if err != nil {
		return inv, err
	}
	if approvedAt.Valid {
		inv.ApprovedAt = &approvedAt.String
	}
	if paidAt.Valid {
		inv.PaidAt = &paidAt.String
	}
	if err := unmarshalInto(itemsJSON, &inv.Items); err != nil {
		return inv, err
	}
	return inv, nil
}

func (r Repo) InsertInvoice(ctx context.Context, inv domain.Invoice) error {
	items, err := marshalOrNil(inv.Items)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO invoices(id,job_id,work_order_id,agent_id,contractor_id,number,items_json,currency,total_amount,status,current_state,notes,approved_at,paid_at,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		inv.ID, inv.JobID, inv.WorkOrderID, inv.AgentID, inv.ContractorID, inv.Number,
		items, inv.Currency, inv.TotalAmount, inv.Status, inv.CurrentState,
		nullable(inv.Notes), nullablePtr(inv.ApprovedAt), nullablePtr(inv.PaidAt),
		inv.CreatedAt, inv.UpdatedAt)
	return err
}

func (r Repo) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=?`, id)
	return scanInvoice(row.Scan)
}

func (r Repo) UpdateInvoice(ctx context.Context, tx *sql.Tx, inv domain.Invoice) error {
	items, err := marshalOrNil(inv.Items)
	if err != nil {
		return err
	}
	var e execer = r.DB
	if tx != nil {
		e = tx
	}
	_, err = e.ExecContext(ctx, `UPDATE invoices SET items_json=?,currency=?,total_amount=?,status=?,current_state=?,notes=?,approved_at=?,paid_at=?,updated_at=? WHERE id=?`,
		items, inv.Currency, inv.TotalAmount, inv.Status, inv.CurrentState,
		nullable(inv.Notes), nullablePtr(inv.ApprovedAt), nullablePtr(inv.PaidAt),
		inv.UpdatedAt, inv.ID)
	return err
}

func (r Repo) ListInvoicesFor(ctx context.Context, userID, state string) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE (agent_id=? OR contractor_id=?) ORDER BY created_at DESC`
	args := []any{userID, userID}
	if state != "" {
		query = `SELECT ` + invoiceColumns + ` FROM invoices WHERE (agent_id=? OR contractor_id=?) AND current_state=? ORDER BY created_at DESC`
		args = append(args, state)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

// InsertAudit appends a workflow audit row. Audits are written in the same
// transaction as the entity they describe and are never updated or deleted.
func (r Repo) InsertAudit(ctx context.Context, tx *sql.Tx, a domain.WorkflowAudit) error {
	var e execer = r.DB
	if tx != nil {
		e = tx
	}
	_, err := e.ExecContext(ctx, `INSERT INTO workflow_audits(id,entity_type,entity_id,from_state,to_state,performed_by,performed_role,job_id,work_order_id,invoice_id,metadata_json,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.EntityType, a.EntityID, a.FromState, a.ToState, a.PerformedBy,
		string(a.PerformedRole), nullablePtr(a.JobID), nullablePtr(a.WorkOrderID),
		nullablePtr(a.InvoiceID), nullablePtr(a.MetadataJSON), a.CreatedAt)
	return err
}

func (r Repo) ListAudits(ctx context.Context, entityType, entityID string) ([]domain.WorkflowAudit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,entity_type,entity_id,from_state,to_state,performed_by,performed_role,job_id,work_order_id,invoice_id,metadata_json,created_at FROM workflow_audits WHERE entity_type=? AND entity_id=? ORDER BY created_at DESC, id DESC LIMIT 100`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowAudit
	for rows.Next() {
		var a domain.WorkflowAudit
		var role string
		var jobID, workOrderID, invoiceID, metadata sql.NullString
		if err := rows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.FromState, &a.ToState,
			&a.PerformedBy, &role, &jobID, &workOrderID, &invoiceID, &metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.PerformedRole = domain.Role(role)
		a.JobID = ptrOf(jobID)
		a.WorkOrderID = ptrOf(workOrderID)
		a.InvoiceID = ptrOf(invoiceID)
		a.MetadataJSON = ptrOf(metadata)
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,user_id,type,title,body,job_id,work_order_id,invoice_id,read,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Type, n.Title, nullable(n.Body), nullablePtr(n.JobID),
		nullablePtr(n.WorkOrderID), nullablePtr(n.InvoiceID), boolToInt(n.Read), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	query := `SELECT id,user_id,type,title,COALESCE(body,''),job_id,work_order_id,invoice_id,read,created_at FROM notifications WHERE user_id=? ORDER BY created_at DESC LIMIT 100`
	args := []any{userID}
	if unreadOnly {
		query = `SELECT id,user_id,type,title,COALESCE(body,''),job_id,work_order_id,invoice_id,read,created_at FROM notifications WHERE user_id=? AND read=0 ORDER BY created_at DESC LIMIT 100`
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var jobID, workOrderID, invoiceID sql.NullString
		var read int
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body,
			&jobID, &workOrderID, &invoiceID, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.JobID = ptrOf(jobID)
		n.WorkOrderID = ptrOf(workOrderID)
		n.InvoiceID = ptrOf(invoiceID)
		n.Read = read != 0
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func ptrOf(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func marshalOrNil(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	if s == "null" || s == "[]" {
		return nil, nil
	}
	return s, nil
}

func unmarshalInto(v sql.NullString, dest any) error {
	if !v.Valid || v.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(v.String), dest)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
