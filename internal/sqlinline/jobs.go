package sqlinline

const QJobInsert = `--sql 0b6f3c1e-8d2a-4f7b-9c55-2e41a7d9f310
insert into queued_jobs (
    id, kind, request_id, status, logs, attempts, result_json,
    error_kind, error_message, storage_keys, created_at, updated_at
)
values ($1, $2, nullif($3, ''), $4, $5::jsonb, $6, $7::jsonb, nullif($8, ''), nullif($9, ''), $10::jsonb, $11, $12);
`

const QJobUpdate = `--sql 5c2d94a0-1f3e-47b8-a6d2-9e07c81b4a65
update queued_jobs
set request_id    = coalesce(nullif($2, ''), request_id),
    status        = $3,
    logs          = $4::jsonb,
    attempts      = $5,
    result_json   = coalesce($6::jsonb, result_json),
    error_kind    = nullif($7, ''),
    error_message = nullif($8, ''),
    storage_keys  = $9::jsonb,
    updated_at    = $10
where id = $1;
`

const QJobGetByID = `--sql 9e4a7b12-6c3d-4e58-8f01-b2d6c5a4e397
select id, kind, coalesce(request_id, ''), status, logs, attempts, result_json,
       coalesce(error_kind, ''), coalesce(error_message, ''), storage_keys, created_at, updated_at
from queued_jobs
where id = $1;
`

const QJobListRecent = `--sql d13f8e67-2a9b-4c0d-b5e4-7f6a1c28e9b0
select id, kind, coalesce(request_id, ''), status, logs, attempts, result_json,
       coalesce(error_kind, ''), coalesce(error_message, ''), storage_keys, created_at, updated_at
from queued_jobs
order by created_at desc
limit $1;
`

const QJobFailInterrupted = `--sql 7a85c0d4-3e19-4b62-9f7e-c4d02b5a81e6
update queued_jobs
set status = 'FAILED',
    error_kind = 'interrupted',
    error_message = 'service restarted before the job finished',
    updated_at = now()
where status in ('SUBMITTED', 'POLLING');
`
